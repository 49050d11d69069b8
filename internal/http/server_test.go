package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/session"
	"fintrack/internal/store/memory"
)

// stateBody is the part of the dashboard state the tests look at.
type stateBody struct {
	User       *core.User `json:"user"`
	Error      string     `json:"error"`
	Categories []struct {
		Name     string `json:"name"`
		Selected bool   `json:"selected"`
	} `json:"categories"`
	Filter struct {
		Type  string `json:"type"`
		Sort  string `json:"sort"`
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"filter"`
	Search struct {
		Input   string `json:"input"`
		Term    string `json:"term"`
		Pending bool   `json:"pending"`
	} `json:"search"`
	Month struct {
		Index int    `json:"index"`
		Label string `json:"label"`
		Count int    `json:"count"`
	} `json:"month"`
	Table struct {
		Empty    string `json:"empty"`
		Message  string `json:"message"`
		Sections []struct {
			Key  string `json:"key"`
			Rows []struct {
				ID          string     `json:"id"`
				Description string     `json:"description"`
				Category    string     `json:"category"`
				Amount      core.Money `json:"amount"`
			} `json:"rows"`
		} `json:"sections"`
	} `json:"table"`
}

func (s stateBody) rowCount() int {
	n := 0
	for _, sec := range s.Table.Sections {
		n += len(sec.Rows)
	}
	return n
}

type testEnv struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T, opts Options, ready func(context.Context) error) *testEnv {
	t.Helper()
	st := memory.New(nil)
	provider := auth.NewProvider(st, 100, time.Hour, nil, auth.WithBcryptCost(bcrypt.MinCost))
	if opts.View.SearchDebounce == 0 {
		opts.View.SearchDebounce = -1
	}
	if opts.RateLimitRPM == 0 {
		opts.RateLimitRPM = 10000
	}
	srv := NewServer(":0", Deps{Store: st, Auth: provider, Ready: ready}, opts, nil)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		st.Close()
	})
	t.Cleanup(ts.Close)
	return &testEnv{t: t, srv: srv, ts: ts, client: newClient(t)}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (e *testEnv) do(c *http.Client, method, path string, body any) (int, []byte) {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		e.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatal(err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) register(c *http.Client, email string) {
	e.t.Helper()
	code, body := e.do(c, http.MethodPost, "/api/auth/register", map[string]string{"email": email, "password": "secret1"})
	if code != http.StatusCreated {
		e.t.Fatalf("register status %d: %s", code, body)
	}
}

func (e *testEnv) state(c *http.Client) stateBody {
	e.t.Helper()
	code, body := e.do(c, http.MethodGet, "/api/dashboard", nil)
	if code != http.StatusOK {
		e.t.Fatalf("dashboard status %d: %s", code, body)
	}
	var st stateBody
	if err := json.Unmarshal(body, &st); err != nil {
		e.t.Fatalf("decode state %s: %v", body, err)
	}
	return st
}

// waitState polls the dashboard until cond holds.
func (e *testEnv) waitState(c *http.Client, cond func(stateBody) bool) stateBody {
	e.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := e.state(c)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			e.t.Fatalf("dashboard never reached the expected state, last %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return eb.Error
}

func TestHealthAndReady(t *testing.T) {
	var failing atomic.Bool
	env := newTestEnv(t, Options{}, func(context.Context) error {
		if failing.Load() {
			return errors.New("database unavailable")
		}
		return nil
	})
	c := env.client

	if code, _ := env.do(c, http.MethodGet, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if code, _ := env.do(c, http.MethodGet, "/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz status %d", code)
	}

	failing.Store(true)
	code, body := env.do(c, http.MethodGet, "/readyz", nil)
	if code != http.StatusServiceUnavailable || !strings.Contains(string(body), "database unavailable") {
		t.Fatalf("readyz with failing store: %d %s", code, body)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client

	if code, body := env.do(c, http.MethodGet, "/api/auth/me", nil); code != http.StatusUnauthorized || errorMessage(t, body) != "Not signed in." {
		t.Fatalf("me before sign-in: %d %s", code, body)
	}

	code, body := env.do(c, http.MethodPost, "/api/auth/register", map[string]string{"email": "not-an-email", "password": "secret1"})
	if code != http.StatusUnauthorized || errorMessage(t, body) != auth.MsgInvalidEmail {
		t.Fatalf("bad email: %d %s", code, body)
	}
	code, body = env.do(c, http.MethodPost, "/api/auth/register", map[string]string{"email": "ann@example.com", "password": "123"})
	if code != http.StatusUnauthorized || errorMessage(t, body) != auth.MsgWeakPassword {
		t.Fatalf("weak password: %d %s", code, body)
	}

	env.register(c, "ann@example.com")

	code, body = env.do(c, http.MethodGet, "/api/auth/me", nil)
	if code != http.StatusOK || !strings.Contains(string(body), "ann@example.com") {
		t.Fatalf("me after register: %d %s", code, body)
	}

	other := newClient(t)
	code, body = env.do(other, http.MethodPost, "/api/auth/register", map[string]string{"email": "ann@example.com", "password": "secret1"})
	if code != http.StatusUnauthorized || errorMessage(t, body) != auth.MsgEmailTaken {
		t.Fatalf("duplicate email: %d %s", code, body)
	}
	code, body = env.do(other, http.MethodPost, "/api/auth/login", map[string]string{"email": "ann@example.com", "password": "wrong-password"})
	if code != http.StatusUnauthorized || errorMessage(t, body) != auth.MsgInvalidCredentials {
		t.Fatalf("wrong password: %d %s", code, body)
	}

	if code, _ := env.do(c, http.MethodPost, "/api/auth/logout", nil); code != http.StatusNoContent {
		t.Fatalf("logout status %d", code)
	}
	if code, _ := env.do(c, http.MethodGet, "/api/auth/me", nil); code != http.StatusUnauthorized {
		t.Fatalf("me after logout: %d", code)
	}
	if code, _ := env.do(c, http.MethodGet, "/api/dashboard", nil); code != http.StatusUnauthorized {
		t.Fatalf("dashboard after logout: %d", code)
	}

	code, body = env.do(c, http.MethodPost, "/api/auth/login", map[string]string{"email": "ANN@example.com", "password": "secret1"})
	if code != http.StatusOK {
		t.Fatalf("login: %d %s", code, body)
	}
}

func TestTransactionWritesReachDashboard(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client
	env.register(c, "bob@example.com")

	st := env.state(c)
	if st.User == nil || st.User.Email != "bob@example.com" {
		t.Fatalf("state user = %+v", st.User)
	}
	if st.Table.Empty != string("no_transactions") || st.Table.Message != "No transactions yet." {
		t.Fatalf("empty table = %q %q", st.Table.Empty, st.Table.Message)
	}

	code, body := env.do(c, http.MethodPost, "/api/transactions", map[string]any{
		"description": "Groceries", "amount": "42.50", "type": "Expense", "category": "Food", "date": "2025-03-14",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	var created createdResponse
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		t.Fatalf("create body %s: %v", body, err)
	}

	st = env.waitState(c, func(s stateBody) bool { return s.rowCount() == 1 })
	row := st.Table.Sections[0].Rows[0]
	if row.ID != created.ID || row.Amount.Cents != 4250 || st.Table.Sections[0].Key != "2025-03" {
		t.Fatalf("row = %+v in %q", row, st.Table.Sections[0].Key)
	}
	if len(st.Categories) != 1 || !st.Categories[0].Selected {
		t.Fatalf("categories = %+v", st.Categories)
	}

	code, body = env.do(c, http.MethodPatch, "/api/transactions/"+created.ID, map[string]any{"description": "Market"})
	if code != http.StatusNoContent {
		t.Fatalf("update: %d %s", code, body)
	}
	env.waitState(c, func(s stateBody) bool {
		return s.rowCount() == 1 && s.Table.Sections[0].Rows[0].Description == "Market"
	})

	code, body = env.do(c, http.MethodPost, "/api/transactions", map[string]any{
		"description": "", "amount": "1", "type": "Expense", "category": "Food",
	})
	if code != http.StatusUnprocessableEntity || errorMessage(t, body) != core.ErrEmptyDescription.Error() {
		t.Fatalf("invalid create: %d %s", code, body)
	}
	if code, body := env.do(c, http.MethodPatch, "/api/transactions/missing", map[string]any{"amount": 3}); code != http.StatusNotFound {
		t.Fatalf("update unknown: %d %s", code, body)
	}
	if code, body := env.do(c, http.MethodDelete, "/api/transactions/missing", nil); code != http.StatusNotFound {
		t.Fatalf("delete unknown: %d %s", code, body)
	}

	if code, body := env.do(c, http.MethodDelete, "/api/transactions/"+created.ID, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", code, body)
	}
	env.waitState(c, func(s stateBody) bool { return s.rowCount() == 0 && s.Table.Empty == "no_transactions" })

	if got := env.srv.appMetrics.transactionsWritten.Load(); got != 3 {
		t.Fatalf("transactions written = %d, want 3", got)
	}
}

func TestUsersSeeOnlyTheirTransactions(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	ann, bob := env.client, newClient(t)
	env.register(ann, "ann@example.com")
	env.register(bob, "bob@example.com")

	code, body := env.do(ann, http.MethodPost, "/api/transactions", map[string]any{
		"description": "Rent", "amount": 900, "type": "Expense", "category": "Home", "date": "2025-01-01",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	var created createdResponse
	_ = json.Unmarshal(body, &created)

	env.waitState(ann, func(s stateBody) bool { return s.rowCount() == 1 })
	if st := env.state(bob); st.rowCount() != 0 {
		t.Fatalf("bob sees %d rows", st.rowCount())
	}
	if code, _ := env.do(bob, http.MethodDelete, "/api/transactions/"+created.ID, nil); code != http.StatusNotFound {
		t.Fatalf("bob deleting ann's row: %d", code)
	}
}

func TestSwitchingUserOnSameBrowserClearsDashboard(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client
	env.register(c, "ann@example.com")
	env.do(c, http.MethodPost, "/api/transactions", map[string]any{
		"description": "Rent", "amount": 900, "type": "Expense", "category": "Home", "date": "2025-01-01",
	})
	env.waitState(c, func(s stateBody) bool { return s.rowCount() == 1 })

	env.do(c, http.MethodPost, "/api/auth/logout", nil)
	env.register(c, "bob@example.com")

	st := env.state(c)
	if st.User == nil || st.User.Email != "bob@example.com" || st.rowCount() != 0 || len(st.Categories) != 0 {
		t.Fatalf("state after switching user: %+v", st)
	}
}

func TestDashboardControls(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client
	env.register(c, "cy@example.com")

	for _, tx := range []map[string]any{
		{"description": "Salary", "amount": 2000, "type": "Income", "category": "Work", "date": "2025-02-01"},
		{"description": "Train", "amount": 30, "type": "Expense", "category": "Travel", "date": "2025-03-05"},
	} {
		if code, body := env.do(c, http.MethodPost, "/api/transactions", tx); code != http.StatusCreated {
			t.Fatalf("create: %d %s", code, body)
		}
	}
	// Categories first seen after the initial selection are not selected.
	env.waitState(c, func(s stateBody) bool { return len(s.Categories) == 2 })
	code, body := env.do(c, http.MethodPost, "/api/dashboard/categories/all", nil)
	var st stateBody
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 2 {
		t.Fatalf("select all: %d %s", code, body)
	}

	code, body = env.do(c, http.MethodPut, "/api/dashboard/filters", map[string]string{"type": "Income"})
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 1 || st.Filter.Type != "Income" {
		t.Fatalf("type filter: %d %s", code, body)
	}

	code, body = env.do(c, http.MethodPut, "/api/dashboard/filters", map[string]string{"type": "All", "start": "2025-03-01", "end": "2025-02-01"})
	if code != http.StatusUnprocessableEntity || errorMessage(t, body) != session.ErrDateRange.Error() {
		t.Fatalf("reversed range: %d %s", code, body)
	}
	if code, _ = env.do(c, http.MethodPut, "/api/dashboard/filters", map[string]string{"sort": "sideways"}); code != http.StatusBadRequest {
		t.Fatalf("unknown sort: %d", code)
	}
	code, body = env.do(c, http.MethodPut, "/api/dashboard/filters", map[string]string{"type": "All", "start": "2025-03-01"})
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 1 {
		t.Fatalf("start date: %d %s", code, body)
	}
	code, body = env.do(c, http.MethodDelete, "/api/dashboard/filters/dates", nil)
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 2 || st.Filter.Start != "" {
		t.Fatalf("clear dates: %d %s", code, body)
	}

	code, body = env.do(c, http.MethodPost, "/api/dashboard/categories/Work/toggle", nil)
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 1 {
		t.Fatalf("toggle Work: %d %s", code, body)
	}
	if code, _ = env.do(c, http.MethodPost, "/api/dashboard/categories/Nope/toggle", nil); code != http.StatusNotFound {
		t.Fatalf("toggle unknown category: %d", code)
	}
	code, body = env.do(c, http.MethodPost, "/api/dashboard/categories/none", nil)
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 0 {
		t.Fatalf("select none: %d %s", code, body)
	}
	env.do(c, http.MethodPost, "/api/dashboard/categories/all", nil)

	code, body = env.do(c, http.MethodPut, "/api/dashboard/search", map[string]any{"term": "TRAIN"})
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.rowCount() != 1 || st.Search.Term != "TRAIN" {
		t.Fatalf("search: %d %s", code, body)
	}
	code, body = env.do(c, http.MethodPut, "/api/dashboard/search", map[string]any{"term": "zzz"})
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.Table.Message != "No results found." {
		t.Fatalf("search without match: %d %s", code, body)
	}
	env.do(c, http.MethodPut, "/api/dashboard/search", map[string]any{"term": ""})

	code, body = env.do(c, http.MethodPost, "/api/dashboard/month/next", nil)
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.Month.Index != 0 || st.Month.Count != 2 || st.Month.Label != "Mar 2025" {
		t.Fatalf("next month: %d %s", code, body)
	}
	code, body = env.do(c, http.MethodPost, "/api/dashboard/swipe", map[string]string{"direction": "right"})
	if code != http.StatusOK || json.Unmarshal(body, &st) != nil || st.Month.Index != -1 {
		t.Fatalf("swipe right: %d %s", code, body)
	}
	if code, _ = env.do(c, http.MethodPost, "/api/dashboard/swipe", map[string]string{"direction": "up"}); code != http.StatusBadRequest {
		t.Fatalf("bad swipe: %d", code)
	}
	if code, _ = env.do(c, http.MethodPost, "/api/dashboard/groups/2025-03/toggle", nil); code != http.StatusOK {
		t.Fatalf("toggle group: %d", code)
	}
}

func TestDashboardRequiresSignIn(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/dashboard"},
		{http.MethodGet, "/api/dashboard/stream"},
		{http.MethodPost, "/api/transactions"},
		{http.MethodPost, "/api/dashboard/month/next"},
	} {
		if code, _ := env.do(env.client, tc.method, tc.path, nil); code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d", tc.method, tc.path, code)
		}
	}
}

func TestDashboardStream(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client
	env.register(c, "dee@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/dashboard/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	streamClient := &http.Client{Jar: c.Jar}
	resp, err := streamClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := make(chan stateBody, 8)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var st stateBody
				if json.Unmarshal([]byte(data), &st) == nil {
					events <- st
				}
			}
		}
	}()

	next := func(cond func(stateBody) bool) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case st, ok := <-events:
				if !ok {
					t.Fatal("stream ended early")
				}
				if cond(st) {
					return
				}
			case <-timeout:
				t.Fatal("timed out waiting for event")
			}
		}
	}

	next(func(st stateBody) bool { return st.User != nil && st.User.Email == "dee@example.com" })

	code, body := env.do(c, http.MethodPost, "/api/transactions", map[string]any{
		"description": "Books", "amount": 12, "type": "Expense", "category": "Study", "date": "2025-04-02",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	next(func(st stateBody) bool { return st.rowCount() == 1 })

	if got := env.srv.appMetrics.streams.Load(); got != 1 {
		t.Fatalf("open streams = %d", got)
	}
}

func TestDashboardStreamEndsWhenBrowserSwitchesUser(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	c := env.client
	env.register(c, "alice@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/dashboard/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := (&http.Client{Jar: c.Jar}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	type event struct {
		name string
		st   stateBody
	}
	events := make(chan event, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		var name string
		for sc.Scan() {
			line := sc.Text()
			if n, ok := strings.CutPrefix(line, "event: "); ok {
				name = n
				continue
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var st stateBody
				_ = json.Unmarshal([]byte(data), &st)
				events <- event{name: name, st: st}
			}
		}
	}()

	first := <-events
	if first.name != "state" || first.st.User == nil || first.st.User.Email != "alice@example.com" {
		t.Fatalf("first event = %+v", first)
	}

	// Same browser, different account.
	env.register(c, "bob@example.com")
	code, body := env.do(c, http.MethodPost, "/api/transactions", map[string]any{
		"description": "Rent", "amount": 800, "type": "Expense", "category": "Home", "date": "2025-04-01",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream ended without signed_out")
			}
			if ev.name == "signed_out" {
				return
			}
			if ev.st.User == nil || ev.st.User.Email != "alice@example.com" {
				t.Fatalf("alice's stream delivered another identity: %+v", ev.st.User)
			}
		case <-timeout:
			t.Fatal("timed out waiting for signed_out")
		}
	}
}

func TestRateLimitRespondsWithJSON(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitRPM: 2}, nil)
	for i := 0; i < 2; i++ {
		if code, _ := env.do(env.client, http.MethodGet, "/healthz", nil); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	code, body := env.do(env.client, http.MethodGet, "/healthz", nil)
	if code != http.StatusTooManyRequests || !strings.Contains(errorMessage(t, body), "Rate limit") {
		t.Fatalf("third request: %d %s", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	code, body := env.do(env.client, http.MethodGet, "/metrics", nil)
	if code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	for _, name := range []string{"http_requests_total", "transactions_written_total", "dashboard_views", "uptime_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}
