// Package memory is an in-process TransactionStore and UserRepository. It is
// the default backend for development and the fixture for handler tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/live"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

type Store struct {
	mu     sync.Mutex
	items  map[string][]core.Transaction
	users  map[string]store.Credentials
	hub    *live.Hub
	logger *log.Logger
}

func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Store{
		items:  make(map[string][]core.Transaction),
		users:  make(map[string]store.Credentials),
		logger: logger.WithComponent(log.ComponentStore),
	}
	s.hub = live.NewHub(s.TransactionsForUser, logger)
	return s
}

// Subscribe implements store.TransactionStore.
func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan store.Snapshot, error) {
	return s.hub.Subscribe(ctx, userID)
}

// TransactionsForUser returns a copy of the user's collection, newest first.
func (s *Store) TransactionsForUser(_ context.Context, userID string) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrNotAuthenticated
	}
	s.mu.Lock()
	out := slices.Clone(s.items[userID])
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b core.Transaction) int {
		return strings.Compare(string(b.Date), string(a.Date))
	})
	return out, nil
}

// Create validates and stores a new transaction.
func (s *Store) Create(ctx context.Context, userID string, form core.TransactionForm) (string, error) {
	if userID == "" {
		return "", core.ErrNotAuthenticated
	}
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.items[userID] = append(s.items[userID], form.Transaction(id))
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Transaction created",
		log.FieldUserID, userID,
		log.FieldTransactionID, id)
	s.hub.Notify(ctx, userID)
	return id, nil
}

// Update applies patch to an existing transaction.
func (s *Store) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	txs := s.items[userID]
	i := slices.IndexFunc(txs, func(t core.Transaction) bool { return t.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	txs[i] = patch.Apply(txs[i])
	s.mu.Unlock()

	s.hub.Notify(ctx, userID)
	return nil
}

// Delete removes a transaction.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}

	s.mu.Lock()
	txs := s.items[userID]
	i := slices.IndexFunc(txs, func(t core.Transaction) bool { return t.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	s.items[userID] = slices.Delete(slices.Clone(txs), i, i+1)
	s.mu.Unlock()

	s.hub.Notify(ctx, userID)
	return nil
}

// CreateUser implements store.UserRepository.
func (s *Store) CreateUser(_ context.Context, email string, passwordHash []byte) (core.User, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return core.User{}, core.ErrEmailTaken
	}
	u := core.User{ID: uuid.NewString(), Email: key}
	s.users[key] = store.Credentials{User: u, PasswordHash: slices.Clone(passwordHash)}
	return u, nil
}

// UserByEmail implements store.UserRepository.
func (s *Store) UserByEmail(_ context.Context, email string) (store.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[normalizeEmail(email)]
	if !ok {
		return store.Credentials{}, core.ErrNotFound
	}
	return c, nil
}

// Close ends every open subscription.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
