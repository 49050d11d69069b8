package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

func TestFromAppConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"memory", config.Config{DataBackend: "memory"}, false},
		{"sqlite", config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", config.Config{DataBackend: "sqlite"}, true},
		{"unknown backend", config.Config{DataBackend: "sheets"}, true},
		{"incomplete amqp", config.Config{DataBackend: "memory", AMQPURL: "amqp://localhost"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromAppConfig(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Error("nil config should fail")
	}
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "fintrack.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			b, err := New(ctx, cfg, log.Discard())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer func() {
				if err := b.Cleanup(); err != nil {
					t.Errorf("Cleanup: %v", err)
				}
			}()

			if err := b.Ready(ctx); err != nil {
				t.Fatalf("Ready: %v", err)
			}
			user, err := b.Users.CreateUser(ctx, "ada@example.com", []byte("hash"))
			if err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if _, err := b.Users.CreateUser(ctx, "ada@example.com", []byte("hash")); !errors.Is(err, core.ErrEmailTaken) {
				t.Errorf("duplicate email err = %v", err)
			}

			form := core.TransactionForm{Description: "Rent", Amount: core.Money{Cents: 90000}, Type: core.Expense, Category: "Home", Date: "2025-01-01"}
			if _, err := b.Store.Create(ctx, user.ID, form); err != nil {
				t.Fatalf("Create: %v", err)
			}
		})
	}
}
