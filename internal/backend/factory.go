package backend

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
	"fintrack/internal/store/memory"
)

// New creates the backend described by cfg.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.WithComponent(log.ComponentBackend)

	switch cfg.Type {
	case SQLiteBackend:
		return newSQLiteBackend(ctx, cfg, logger)
	case MemoryBackend:
		return newMemoryBackend(ctx, logger), nil
	}
	return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
}

func newSQLiteBackend(ctx context.Context, cfg Config, logger *log.Logger) (*Backend, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	var (
		publisher  services.ChangePublisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change messages", log.FieldError, err)
		} else {
			publisher = amqpClient
			logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	svc := services.NewTransactionService(repo, publisher, logger)

	logger.InfoContext(ctx, "Initialized SQLite backend",
		"db_path", cfg.SQLiteDBPath,
		"amqp_enabled", publisher != nil)

	return &Backend{
		Type:  SQLiteBackend,
		Store: svc,
		Users: repo,
		Ready: repo.Ping,
		Cleanup: func() error {
			errs := []error{svc.Close()}
			if amqpClient != nil {
				errs = append(errs, amqpClient.Close())
			}
			errs = append(errs, repo.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func newMemoryBackend(ctx context.Context, logger *log.Logger) *Backend {
	st := memory.New(logger)
	logger.InfoContext(ctx, "Initialized memory backend")
	return &Backend{
		Type:    MemoryBackend,
		Store:   st,
		Users:   st,
		Ready:   func(context.Context) error { return nil },
		Cleanup: st.Close,
	}
}
