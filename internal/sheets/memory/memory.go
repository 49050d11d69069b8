// Package memory is an in-process sheets mirror, used for worker dry runs and
// tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/sheets"
)

var (
	_ sheets.SnapshotWriter = (*Mirror)(nil)
	_ sheets.SnapshotReader = (*Mirror)(nil)
)

type Mirror struct {
	mu     sync.Mutex
	sheets map[string][]core.Transaction
	writes int
	fail   error
}

func New() *Mirror {
	return &Mirror{sheets: make(map[string][]core.Transaction)}
}

// WriteSnapshot replaces the user's sheet.
func (m *Mirror) WriteSnapshot(_ context.Context, userID string, txs []core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sheets[userID] = slices.Clone(txs)
	m.writes++
	return nil
}

// ReadSnapshot returns a copy of the user's sheet; unknown users have none.
func (m *Mirror) ReadSnapshot(_ context.Context, userID string) ([]core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sheets[userID]), nil
}

// Writes counts successful writes.
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetFailure makes every write fail with err until it is reset with nil.
func (m *Mirror) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}
