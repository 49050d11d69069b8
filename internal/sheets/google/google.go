package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/log"
	ports "fintrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Columns of a mirror sheet, in order.
var header = []string{"Date", "Description", "Category", "Type", "Amount", "ID"}

type Config struct {
	SpreadsheetID   string
	SheetPrefix     string
	CredentialsJSON string
	CredentialsFile string
}

// Client mirrors each user's transactions into a sheet of its own, named
// "<prefix> <user id>".
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	prefix        string
	logger        *log.Logger

	mu    sync.Mutex
	known map[string]bool
}

var (
	_ ports.SnapshotWriter = (*Client)(nil)
	_ ports.SnapshotReader = (*Client)(nil)
)

// NewClient creates a Sheets client authenticated with a service account.
func NewClient(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	logger = logger.WithComponent(log.ComponentSheets)

	creds, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Creating Google Sheets service with service account",
		"credentials_size", len(creds),
		"scope", gsheet.SpreadsheetsScope)

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	prefix := strings.TrimSpace(cfg.SheetPrefix)
	if prefix == "" {
		prefix = "Transactions"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		prefix:        prefix,
		logger:        logger,
		known:         make(map[string]bool),
	}, nil
}

// loadCredentials prefers inline JSON over a credentials file.
func loadCredentials(cfg Config) ([]byte, error) {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

// SheetName returns the sheet that holds userID's transactions.
func SheetName(prefix, userID string) string {
	return strings.TrimSpace(prefix) + " " + userID
}

// quoteSheet quotes a sheet title for use in A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// SnapshotRows renders txs as sheet rows, header first. Amounts are written
// as numbers so that the sheet can sum them.
func SnapshotRows(txs []core.Transaction) [][]any {
	rows := make([][]any, 0, len(txs)+1)
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	rows = append(rows, head)
	for _, t := range txs {
		rows = append(rows, []any{
			string(t.Date),
			t.Description,
			t.Category,
			string(t.Type),
			t.Amount.Decimal().InexactFloat64(),
			t.ID,
		})
	}
	return rows
}

// WriteSnapshot replaces the user's sheet with txs. The sheet is created on
// first use; a sheet that already holds txs is left untouched.
func (c *Client) WriteSnapshot(ctx context.Context, userID string, txs []core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	name := SheetName(c.prefix, userID)
	if err := c.ensureSheet(ctx, name); err != nil {
		return err
	}

	current, err := c.read(ctx, name)
	if err != nil {
		return err
	}
	if slices.Equal(current, txs) {
		c.logger.DebugContext(ctx, "Sheet already up to date", log.FieldSheet, name, log.FieldCount, len(txs))
		return nil
	}

	rng := quoteSheet(name) + "!A:F"
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	vr := &gsheet.ValueRange{Values: SnapshotRows(txs)}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, quoteSheet(name)+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update sheet %s: %w", name, err)
	}

	c.logger.InfoContext(ctx, "Sheet written", log.FieldSheet, name, log.FieldUserID, userID, log.FieldCount, len(txs))
	return nil
}

// ReadSnapshot returns the transactions currently in the user's sheet. A
// user without a sheet has none.
func (c *Client) ReadSnapshot(ctx context.Context, userID string) ([]core.Transaction, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	name := SheetName(c.prefix, userID)
	exists, err := c.sheetExists(ctx, name)
	if err != nil || !exists {
		return nil, err
	}
	return c.read(ctx, name)
}

func (c *Client) read(ctx context.Context, name string) ([]core.Transaction, error) {
	rng := quoteSheet(name) + "!A:F"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseSnapshot(resp.Values)
}

func (c *Client) sheetExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	known := c.known[name]
	c.mu.Unlock()
	if known {
		return true, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("get spreadsheet: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.known[sh.Properties.Title] = true
		}
	}
	return c.known[name], nil
}

func (c *Client) ensureSheet(ctx context.Context, name string) error {
	exists, err := c.sheetExists(ctx, name)
	if err != nil || exists {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "Sheet created", log.FieldSheet, name)

	c.mu.Lock()
	c.known[name] = true
	c.mu.Unlock()
	return nil
}
