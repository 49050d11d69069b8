// Package backend builds the storage stack selected by DATA_BACKEND.
package backend

import (
	"context"

	"fintrack/internal/store"
)

type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	return bt == MemoryBackend || bt == SQLiteBackend
}

// CleanupFunc releases the resources of a backend.
type CleanupFunc func() error

// Backend is what the HTTP server needs from storage.
type Backend struct {
	Type  BackendType
	Store store.TransactionStore
	Users store.UserRepository
	// Ready reports whether the backend can serve requests.
	Ready   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	// AMQP is optional; without it the mirror worker is never told about
	// changes and catches up through its periodic sweep.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}
