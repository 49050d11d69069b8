package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"

	_ "modernc.org/sqlite"
)

// Mirror status values stored in mirror_state.status.
const (
	MirrorPending = "pending"
	MirrorSynced  = "synced"
	MirrorError   = "error"
)

// SQLiteRepository is the durable home of users and their transactions.
type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

// MirrorState reports how far the Google Sheets mirror of a user lags.
type MirrorState struct {
	UserID    string
	Status    string
	LastError string
	SyncedAt  time.Time
}

// dsn enables foreign keys and a busy timeout on every pooled connection.
func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc/sqlite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateUser implements store.UserRepository.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (core.User, error) {
	u := core.User{ID: uuid.NewString(), Email: normalizeEmail(email)}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		u.ID, u.Email, passwordHash)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	if n == 0 {
		return core.User{}, core.ErrEmailTaken
	}

	r.logger.InfoContext(ctx, "User created", log.FieldUserID, u.ID)
	return u, nil
}

// UserByEmail implements store.UserRepository.
func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (store.Credentials, error) {
	var c store.Credentials
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash FROM users WHERE email = ?`,
		normalizeEmail(email)).Scan(&c.User.ID, &c.User.Email, &c.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Credentials{}, core.ErrNotFound
	}
	if err != nil {
		return store.Credentials{}, fmt.Errorf("get user by email: %w", err)
	}
	return c, nil
}

// ListUserIDs returns every account id, oldest first.
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransactionsForUser implements store.TransactionLister. Rows sharing a date
// keep insertion order.
func (r *SQLiteRepository) TransactionsForUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrNotAuthenticated
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, description, amount_cents, type, category, date
		 FROM transactions WHERE user_id = ?
		 ORDER BY date DESC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]core.Transaction, 0)
	for rows.Next() {
		var (
			t   core.Transaction
			typ string
			day string
		)
		if err := rows.Scan(&t.ID, &t.Description, &t.Amount.Cents, &typ, &t.Category, &day); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = core.TransactionType(typ)
		t.Date = core.Date(day)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// InsertTransaction stores a validated form and returns the new id.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, userID string, form core.TransactionForm) (string, error) {
	if userID == "" {
		return "", core.ErrNotAuthenticated
	}
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, description, amount_cents, type, category, date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, form.Description, form.Amount.Cents, string(form.Type), form.Category, string(form.Date))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	if err := r.markPending(ctx, userID); err != nil {
		return "", err
	}

	r.logger.DebugContext(ctx, "Transaction saved to SQLite",
		log.FieldUserID, userID,
		log.FieldTransactionID, id,
		log.FieldAmountCents, form.Amount.Cents)
	return id, nil
}

// UpdateTransaction applies patch to one of userID's transactions.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var (
		cur      core.Transaction
		typ, day string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, description, amount_cents, type, category, date
		 FROM transactions WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&cur.ID, &cur.Description, &cur.Amount.Cents, &typ, &cur.Category, &day)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	cur.Type = core.TransactionType(typ)
	cur.Date = core.Date(day)

	next := patch.Apply(cur)
	_, err = tx.ExecContext(ctx,
		`UPDATE transactions
		 SET description = ?, amount_cents = ?, type = ?, category = ?, date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ?`,
		next.Description, next.Amount.Cents, string(next.Type), next.Category, string(next.Date), id, userID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return r.markPending(ctx, userID)
}

// DeleteTransaction removes one of userID's transactions.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrNotAuthenticated
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return r.markPending(ctx, userID)
}

// MarkMirrored records a successful sheet rewrite for userID.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mirror_state (user_id, status, last_error, synced_at, updated_at)
		 VALUES (?, ?, '', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   status = excluded.status, last_error = '', synced_at = excluded.synced_at, updated_at = excluded.updated_at`,
		userID, MirrorSynced)
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	r.logger.DebugContext(ctx, "User marked as mirrored", log.FieldUserID, userID)
	return nil
}

// MarkMirrorError records a failed sheet rewrite for userID.
func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, userID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mirror_state (user_id, status, last_error, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   status = excluded.status, last_error = excluded.last_error, updated_at = excluded.updated_at`,
		userID, MirrorError, msg)
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	return nil
}

// PendingMirrorUsers returns the users whose mirror is not in sync.
func (r *SQLiteRepository) PendingMirrorUsers(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM mirror_state WHERE status != ? ORDER BY updated_at LIMIT ?`,
		MirrorSynced, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending mirrors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending mirror: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MirrorStateFor returns the mirror status of userID. Users never written to
// are reported as pending.
func (r *SQLiteRepository) MirrorStateFor(ctx context.Context, userID string) (MirrorState, error) {
	st := MirrorState{UserID: userID, Status: MirrorPending}
	var synced any
	err := r.db.QueryRowContext(ctx,
		`SELECT status, last_error, synced_at FROM mirror_state WHERE user_id = ?`, userID).
		Scan(&st.Status, &st.LastError, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get mirror state: %w", err)
	}
	st.SyncedAt = parseTimestamp(synced)
	return st, nil
}

func (r *SQLiteRepository) markPending(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mirror_state (user_id, status, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		userID, MirrorPending)
	if err != nil {
		return fmt.Errorf("mark mirror pending: %w", err)
	}
	return nil
}

// parseTimestamp accepts what the driver yields for a DATETIME column: a
// time.Time, or the CURRENT_TIMESTAMP text form.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.DateTime, t)
		return parsed
	case []byte:
		parsed, _ := time.Parse(time.DateTime, string(t))
		return parsed
	}
	return time.Time{}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
