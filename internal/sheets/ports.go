// Package sheets declares the spreadsheet mirror of each user's transactions.
package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// SnapshotWriter replaces the mirror of one user with txs, in the order
	// given.
	SnapshotWriter interface {
		WriteSnapshot(ctx context.Context, userID string, txs []core.Transaction) error
	}

	// SnapshotReader returns what the mirror currently holds for a user.
	SnapshotReader interface {
		ReadSnapshot(ctx context.Context, userID string) ([]core.Transaction, error)
	}
)
