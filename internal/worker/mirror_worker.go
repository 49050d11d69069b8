// Package worker keeps the spreadsheet mirror in step with the database.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// MirrorStore is the part of the repository the worker needs.
// *storage.SQLiteRepository satisfies it.
type MirrorStore interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	TransactionsForUser(ctx context.Context, userID string) ([]core.Transaction, error)
	PendingMirrorUsers(ctx context.Context, limit int) ([]string, error)
	MarkMirrored(ctx context.Context, userID string) error
	MarkMirrorError(ctx context.Context, userID string, cause error) error
}

// startupFactor widens the batch for the check run at startup.
const startupFactor = 5

// parallelism bounds concurrent sheet writes.
const parallelism = 4

// MirrorWorker rewrites a user's sheet from the database whenever that user's
// transactions change.
type MirrorWorker struct {
	store     MirrorStore
	sheets    sheets.SnapshotWriter
	batchSize int
	logger    *log.Logger

	// Concurrent requests for the same user share one rewrite.
	group singleflight.Group

	mirrored atomic.Int64
	failed   atomic.Int64
}

func NewMirrorWorker(store MirrorStore, writer sheets.SnapshotWriter, batchSize int, logger *log.Logger) *MirrorWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &MirrorWorker{
		store:     store,
		sheets:    writer,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleChange processes one change message from AMQP. A returned error
// requeues the message.
func (w *MirrorWorker) HandleChange(ctx context.Context, msg *amqp.TransactionChangeMessage) error {
	if msg.UserID == "" {
		w.logger.WarnContext(ctx, "Dropping change message without user", log.FieldOperation, msg.Operation)
		return nil
	}
	w.logger.InfoContext(ctx, "Processing change message",
		log.FieldUserID, msg.UserID,
		log.FieldTransactionID, msg.TransactionID,
		log.FieldOperation, msg.Operation)

	return w.Mirror(ctx, msg.UserID)
}

// Mirror rewrites userID's sheet with the user's current transactions and
// records the outcome.
func (w *MirrorWorker) Mirror(ctx context.Context, userID string) error {
	_, err, _ := w.group.Do(userID, func() (any, error) {
		return nil, w.mirror(ctx, userID)
	})
	return err
}

func (w *MirrorWorker) mirror(ctx context.Context, userID string) error {
	txs, err := w.store.TransactionsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	if err := w.sheets.WriteSnapshot(ctx, userID, txs); err != nil {
		w.failed.Add(1)
		if markErr := w.store.MarkMirrorError(ctx, userID, err); markErr != nil {
			w.logger.Err(ctx, "Failed to mark mirror error", markErr, log.FieldUserID, userID)
		}
		return fmt.Errorf("write snapshot: %w", err)
	}

	w.mirrored.Add(1)
	if err := w.store.MarkMirrored(ctx, userID); err != nil {
		// The sheet is written; the next pending sweep rewrites it again.
		w.logger.Err(ctx, "Failed to mark as mirrored", err, log.FieldUserID, userID)
	}
	w.logger.InfoContext(ctx, "Mirror updated", log.FieldUserID, userID, log.FieldCount, len(txs))
	return nil
}

// ProcessPending rewrites mirrors that are not in sync. It is the backup for
// lost AMQP messages.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	users, err := w.store.PendingMirrorUsers(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending mirrors: %w", err)
	}
	if len(users) == 0 {
		return nil
	}
	w.logger.InfoContext(ctx, "Processing pending mirrors", log.FieldCount, len(users))
	w.mirrorAll(ctx, users)
	return nil
}

// StartupSyncCheck catches up on changes made while the worker was down.
func (w *MirrorWorker) StartupSyncCheck(ctx context.Context) error {
	users, err := w.store.PendingMirrorUsers(ctx, w.batchSize*startupFactor)
	if err != nil {
		return fmt.Errorf("get pending mirrors for startup check: %w", err)
	}
	if len(users) == 0 {
		w.logger.InfoContext(ctx, "No pending mirrors found on startup")
		return nil
	}

	synced, failed := w.mirrorAll(ctx, users)
	w.logger.InfoContext(ctx, "Startup sync completed",
		"total", len(users),
		"synced", synced,
		"errors", failed)
	return nil
}

// ResyncAll rewrites the mirror of every known user.
func (w *MirrorWorker) ResyncAll(ctx context.Context) error {
	users, err := w.store.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	_, failed := w.mirrorAll(ctx, users)
	if failed > 0 {
		return fmt.Errorf("resync: %d of %d mirrors failed", failed, len(users))
	}
	return nil
}

// mirrorAll rewrites each user's mirror. Failures are logged and counted;
// they never stop the others.
func (w *MirrorWorker) mirrorAll(ctx context.Context, users []string) (synced, failed int) {
	var ok, ko atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, userID := range users {
		g.Go(func() error {
			if err := w.Mirror(gctx, userID); err != nil {
				ko.Add(1)
				if !errors.Is(err, context.Canceled) {
					w.logger.Err(gctx, "Failed to mirror user", err, log.FieldUserID, userID)
				}
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(ko.Load())
}

// Stats reports successful and failed rewrites since start.
func (w *MirrorWorker) Stats() (mirrored, failed int64) {
	return w.mirrored.Load(), w.failed.Load()
}
