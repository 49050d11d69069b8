// Package store declares the storage collaborator of the dashboard: a per-user
// transaction collection that pushes a fresh snapshot after every change.
package store

import (
	"context"

	"fintrack/internal/core"
)

// Snapshot is the full, ordered contents of one user's collection at a point
// in time. Transactions are ordered by date, newest first. Err is set when
// the snapshot could not be loaded; Transactions is then nil. The slice is
// shared between subscribers and must not be modified.
type Snapshot struct {
	UserID       string
	Seq          uint64
	Transactions []core.Transaction
	Err          error
}

// Credentials is what the user repository keeps for each account.
type Credentials struct {
	User         core.User
	PasswordHash []byte
}

// Ports for outbound adapters.
type (
	// TransactionStore is the live collection of a user's transactions.
	//
	// Subscribe delivers the initial snapshot and then a new one after every
	// change, including the caller's own writes. A slow reader may miss
	// intermediate snapshots but always ends up with the latest. The channel is
	// closed once ctx is done. Writes with an empty userID fail with
	// core.ErrNotAuthenticated; Update and Delete of an unknown id fail with
	// core.ErrNotFound.
	TransactionStore interface {
		Subscribe(ctx context.Context, userID string) (<-chan Snapshot, error)
		Create(ctx context.Context, userID string, form core.TransactionForm) (id string, err error)
		Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error
		Delete(ctx context.Context, userID, id string) error
	}

	// TransactionLister reads a user's collection once.
	TransactionLister interface {
		TransactionsForUser(ctx context.Context, userID string) ([]core.Transaction, error)
	}

	// UserRepository persists accounts. CreateUser fails with
	// core.ErrEmailTaken for a duplicate email; UserByEmail fails with
	// core.ErrNotFound when no account matches.
	UserRepository interface {
		CreateUser(ctx context.Context, email string, passwordHash []byte) (core.User, error)
		UserByEmail(ctx context.Context, email string) (Credentials, error)
	}
)
