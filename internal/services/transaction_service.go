package services

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/live"
	"fintrack/internal/log"
	"fintrack/internal/storage"
	"fintrack/internal/store"
)

// ChangePublisher announces collection changes to the mirror worker.
type ChangePublisher interface {
	PublishTransactionChange(ctx context.Context, msg *amqp.TransactionChangeMessage) error
}

// TransactionService is the SQLite-backed TransactionStore. Writes go to
// SQLite first; subscribers are then refreshed through the live hub and a
// change message is published for the mirror worker. Publishing is best
// effort and never fails a write.
type TransactionService struct {
	storage   *storage.SQLiteRepository
	hub       *live.Hub
	publisher ChangePublisher
	logger    *log.Logger
	events    *log.StructuredLogger
}

func NewTransactionService(repo *storage.SQLiteRepository, publisher ChangePublisher, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionService{
		storage:   repo,
		hub:       live.NewHub(repo.TransactionsForUser, logger),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentStore),
		events:    log.NewStructuredLogger(logger),
	}
}

var _ store.TransactionStore = (*TransactionService)(nil)

// Subscribe implements store.TransactionStore.
func (s *TransactionService) Subscribe(ctx context.Context, userID string) (<-chan store.Snapshot, error) {
	return s.hub.Subscribe(ctx, userID)
}

// Create validates form, saves it and notifies subscribers.
func (s *TransactionService) Create(ctx context.Context, userID string, form core.TransactionForm) (string, error) {
	if userID == "" {
		return "", core.ErrNotAuthenticated
	}
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return "", err
	}

	id, err := s.storage.InsertTransaction(ctx, userID, form)
	if err != nil {
		return "", fmt.Errorf("save transaction: %w", err)
	}

	s.events.LogTransactionWritten(ctx, log.OpCreate, userID, id, form.Amount.Cents, form.Category)
	s.afterWrite(ctx, userID, id, amqp.OpCreated)
	return id, nil
}

// Update applies patch and notifies subscribers.
func (s *TransactionService) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := s.storage.UpdateTransaction(ctx, userID, id, patch); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update transaction: %w", err)
	}

	s.events.LogTransactionWritten(ctx, log.OpUpdate, userID, id, 0, "")
	s.afterWrite(ctx, userID, id, amqp.OpUpdated)
	return nil
}

// Delete removes a transaction and notifies subscribers.
func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}
	if err := s.storage.DeleteTransaction(ctx, userID, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.events.LogTransactionWritten(ctx, log.OpDelete, userID, id, 0, "")
	s.afterWrite(ctx, userID, id, amqp.OpDeleted)
	return nil
}

func (s *TransactionService) afterWrite(ctx context.Context, userID, id string, op amqp.Operation) {
	s.hub.Notify(ctx, userID)

	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping change message")
		return
	}
	msg := amqp.NewTransactionChangeMessage(userID, id, op)
	if err := s.publisher.PublishTransactionChange(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change message",
			log.FieldUserID, userID,
			log.FieldTransactionID, id,
			log.FieldError, err)
	}
}

// Close ends every subscription. The repository and publisher are owned by
// the caller.
func (s *TransactionService) Close() error {
	s.hub.Close()
	return nil
}
