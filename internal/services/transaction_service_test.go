package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/store"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.TransactionChangeMessage
	err  error
}

func (p *recordingPublisher) PublishTransactionChange(_ context.Context, msg *amqp.TransactionChangeMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) ops() []amqp.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.Operation, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Operation
	}
	return out
}

func newTestService(t *testing.T, pub ChangePublisher) (*TransactionService, core.User) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "svc.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	u, err := repo.CreateUser(context.Background(), "ann@example.com", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	svc := NewTransactionService(repo, pub, nil)
	t.Cleanup(func() { svc.Close() })
	return svc, u
}

func validForm() core.TransactionForm {
	return core.TransactionForm{
		Description: "  Groceries ",
		Amount:      core.Money{Cents: 4250},
		Type:        core.Expense,
		Category:    "Food",
		Date:        "2025-03-02",
	}
}

func waitSnapshot(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return store.Snapshot{}
}

func TestTransactionServiceLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	svc, u := newTestService(t, pub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := svc.Subscribe(ctx, u.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap := waitSnapshot(t, ch); len(snap.Transactions) != 0 || snap.Err != nil {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}

	id, err := svc.Create(ctx, u.ID, validForm())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap := waitSnapshot(t, ch)
	if len(snap.Transactions) != 1 || snap.Transactions[0].Description != "Groceries" {
		t.Fatalf("unexpected snapshot after create %+v", snap.Transactions)
	}

	amount := core.Money{Cents: 5000}
	if err := svc.Update(ctx, u.ID, id, core.TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if snap := waitSnapshot(t, ch); snap.Transactions[0].Amount.Cents != 5000 {
		t.Fatalf("unexpected snapshot after update %+v", snap.Transactions)
	}

	if err := svc.Delete(ctx, u.ID, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if snap := waitSnapshot(t, ch); len(snap.Transactions) != 0 {
		t.Fatalf("unexpected snapshot after delete %+v", snap.Transactions)
	}

	got := pub.ops()
	want := []amqp.Operation{amqp.OpCreated, amqp.OpUpdated, amqp.OpDeleted}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
}

func TestTransactionServiceValidation(t *testing.T) {
	pub := &recordingPublisher{}
	svc, u := newTestService(t, pub)
	ctx := context.Background()

	f := validForm()
	f.Amount = core.Money{}
	if _, err := svc.Create(ctx, u.ID, f); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Create(ctx, "", validForm()); !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := svc.Delete(ctx, u.ID, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(pub.ops()) != 0 {
		t.Fatalf("failed writes must not publish, got %v", pub.ops())
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, u := newTestService(t, pub)

	if _, err := svc.Create(context.Background(), u.ID, validForm()); err != nil {
		t.Fatalf("Create should succeed when publishing fails: %v", err)
	}
}

func TestNilPublisher(t *testing.T) {
	svc, u := newTestService(t, nil)
	if _, err := svc.Create(context.Background(), u.ID, validForm()); err != nil {
		t.Fatalf("Create without publisher: %v", err)
	}
}
