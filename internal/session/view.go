// Package session keeps the per-browser viewing state of the dashboard: the
// filter configuration, the debounced search term, the month cursor, which
// table sections are expanded, and the latest snapshot of the user's
// collection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dashboard"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

const (
	DefaultSearchDebounce = 300 * time.Millisecond

	// MsgLoadFailed replaces the error text when a snapshot fails to load.
	MsgLoadFailed = "Failed to load transactions"
	// MsgWriteFailed is shown for any write the store rejected.
	MsgWriteFailed = "Transaction failed."
)

var (
	ErrClosed = errors.New("session closed")
	// ErrWriteFailed wraps store failures that are not a validation, auth or
	// not-found error.
	ErrWriteFailed = errors.New(MsgWriteFailed)
	ErrDateRange   = errors.New("End date must be on or after the start date.")
)

type Options struct {
	SearchDebounce  time.Duration
	PageSize        int
	OthersThreshold float64
}

func (o Options) withDefaults() Options {
	if o.SearchDebounce == 0 {
		o.SearchDebounce = DefaultSearchDebounce
	}
	if o.PageSize <= 0 {
		o.PageSize = dashboard.DefaultPageSize
	}
	if o.OthersThreshold <= 0 {
		o.OthersThreshold = dashboard.DefaultOthersThreshold
	}
	return o
}

// View is one viewing session. All methods are safe for concurrent use.
type View struct {
	store  store.TransactionStore
	opts   Options
	logger *log.Logger
	search *Debouncer

	// bindMu serializes Bind, Unbind and Close.
	bindMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	gen         uint64
	user        core.User
	bound       bool
	loading     bool
	loadErr     string
	txs         []core.Transaction
	categories  []string
	filter      dashboard.Filter
	searchInput string
	searchTerm  string
	cursor      dashboard.MonthCursor
	pager       *dashboard.GroupPager
	changed     chan struct{}
	closed      bool
}

func NewView(s store.TransactionStore, opts Options, logger *log.Logger) *View {
	if logger == nil {
		logger = log.Discard()
	}
	opts = opts.withDefaults()
	return &View{
		store:   s,
		opts:    opts,
		logger:  logger.WithComponent(log.ComponentSession),
		search:  NewDebouncer(opts.SearchDebounce),
		filter:  dashboard.DefaultFilter(nil),
		cursor:  dashboard.NewMonthCursor(),
		pager:   dashboard.NewGroupPager(opts.PageSize),
		changed: make(chan struct{}),
	}
}

// Bind switches the session to user. The previous subscription, if any, is
// torn down and its goroutine has stopped before the new one starts, so no
// snapshot of the old identity can reach the new one. Binding the identity
// that is already bound is a no-op.
func (v *View) Bind(user core.User) error {
	if user.ID == "" {
		return core.ErrNotAuthenticated
	}

	v.bindMu.Lock()
	defer v.bindMu.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.bound && v.user.ID == user.ID {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	v.detachLocked()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := v.store.Subscribe(ctx, user.ID)
	if err != nil {
		cancel()
		v.logger.Error("Subscribe failed", log.FieldUserID, user.ID, log.FieldError, err)
		v.mu.Lock()
		v.loadErr = MsgLoadFailed
		v.notifyLocked()
		v.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.user = user
	v.bound = true
	v.loading = true
	v.notifyLocked()
	v.mu.Unlock()

	done := make(chan struct{})
	v.cancel = cancel
	v.done = done
	go v.pump(gen, ch, done)

	v.logger.Debug("Session bound", log.FieldUserID, user.ID)
	return nil
}

// Unbind drops the current identity and everything loaded for it. The filter
// configuration is kept.
func (v *View) Unbind() {
	v.bindMu.Lock()
	defer v.bindMu.Unlock()
	v.detachLocked()
}

// Close unbinds and releases the session. Watchers are released and later
// Bind calls fail.
func (v *View) Close() {
	v.bindMu.Lock()
	defer v.bindMu.Unlock()
	v.detachLocked()
	v.search.Stop()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.changed)
	}
}

// User returns the bound identity.
func (v *View) User() (core.User, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user, v.bound
}

// detachLocked cancels the subscription and waits for its goroutine. The
// caller holds bindMu.
func (v *View) detachLocked() {
	if v.cancel != nil {
		v.cancel()
		<-v.done
		v.cancel, v.done = nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bound && v.txs == nil {
		return
	}
	v.gen++
	v.bound = false
	v.user = core.User{}
	v.loading = false
	v.loadErr = ""
	v.txs = nil
	v.categories = nil
	v.filter.Categories = dashboard.NewCategorySet()
	v.cursor = dashboard.NewMonthCursor()
	v.pager.Reset()
	v.notifyLocked()
}

func (v *View) pump(gen uint64, ch <-chan store.Snapshot, done chan struct{}) {
	defer close(done)
	for snap := range ch {
		v.apply(gen, snap)
	}
}

func (v *View) apply(gen uint64, snap store.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	v.loading = false
	if snap.Err != nil {
		// Keep showing the last good list.
		v.loadErr = MsgLoadFailed
		v.notifyLocked()
		return
	}
	v.loadErr = ""
	v.txs = snap.Transactions
	v.categories = dashboard.Categories(v.txs)
	v.filter.Categories = dashboard.ReconcileSelection(v.filter.Categories, v.categories)
	v.clampLocked()
	v.notifyLocked()
}

// FilterUpdate changes a subset of the filter. Empty date strings clear a bound.
type FilterUpdate struct {
	Type  *string `json:"type,omitempty"`
	Sort  *string `json:"sort,omitempty"`
	Start *string `json:"start,omitempty"`
	End   *string `json:"end,omitempty"`
}

// SetFilter validates u and applies it as a whole.
func (v *View) SetFilter(u FilterUpdate) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := v.filter
	if u.Type != nil {
		t, ok := dashboard.ParseTypeFilter(*u.Type)
		if !ok {
			return fmt.Errorf("unknown type filter %q", *u.Type)
		}
		next.Type = t
	}
	if u.Sort != nil {
		s, ok := dashboard.ParseSortKey(*u.Sort)
		if !ok {
			return fmt.Errorf("unknown sort key %q", *u.Sort)
		}
		next.Sort = s
	}
	if u.Start != nil {
		d := core.Date(*u.Start)
		if !d.IsZero() {
			if err := d.Validate(); err != nil {
				return err
			}
		}
		next.Start = d
	}
	if u.End != nil {
		d := core.Date(*u.End)
		if !d.IsZero() {
			if err := d.Validate(); err != nil {
				return err
			}
		}
		next.End = d
	}
	if !next.Start.IsZero() && !next.End.IsZero() && next.End < next.Start {
		return ErrDateRange
	}

	v.filter = next
	v.clampLocked()
	v.notifyLocked()
	return nil
}

// ClearDates removes both date bounds.
func (v *View) ClearDates() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter.Start, v.filter.End = "", ""
	v.clampLocked()
	v.notifyLocked()
}

// ToggleCategory flips one category and reports whether it is now selected.
// Categories absent from the snapshot fail with core.ErrNotFound.
func (v *View) ToggleCategory(name string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	known := false
	for _, c := range v.categories {
		if c == name {
			known = true
			break
		}
	}
	if !known {
		return false, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
	}
	v.filter.Categories = v.filter.Categories.Toggle(name)
	v.clampLocked()
	v.notifyLocked()
	return v.filter.Categories.Has(name), nil
}

// SelectAllCategories selects every category of the current snapshot.
func (v *View) SelectAllCategories() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter.Categories = dashboard.NewCategorySet(v.categories...)
	v.clampLocked()
	v.notifyLocked()
}

// ClearCategories deselects everything, which empties the list.
func (v *View) ClearCategories() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter.Categories = dashboard.NewCategorySet()
	v.clampLocked()
	v.notifyLocked()
}

// SetSearch records the typed term and applies it once typing has been quiet
// for the debounce delay. Only the last term of a burst is applied.
func (v *View) SetSearch(term string) {
	v.mu.Lock()
	v.searchInput = term
	v.notifyLocked()
	v.mu.Unlock()

	v.search.Trigger(func() { v.applySearch(term) })
}

// FlushSearch applies a pending search term immediately.
func (v *View) FlushSearch() {
	v.search.Flush()
}

func (v *View) applySearch(term string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.searchTerm == term {
		return
	}
	v.searchTerm = term
	v.notifyLocked()
}

// PrevMonth moves the cursor towards all time.
func (v *View) PrevMonth() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = v.cursor.Prev()
	v.notifyLocked()
}

// NextMonth moves the cursor to the next month group.
func (v *View) NextMonth() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = v.cursor.Next(v.groupCountLocked())
	v.notifyLocked()
}

func (v *View) Swipe(dir dashboard.SwipeDirection) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = v.cursor.Swipe(dir, v.groupCountLocked())
	v.notifyLocked()
}

// ToggleGroup expands or collapses a month section of the table.
func (v *View) ToggleGroup(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	expanded := v.pager.Toggle(key)
	v.notifyLocked()
	return expanded
}

// Create validates form and writes it for userID, which must be the bound
// user. The new row shows up through the subscription, not through this call.
func (v *View) Create(ctx context.Context, userID string, form core.TransactionForm) (string, error) {
	if err := v.checkBound(userID); err != nil {
		return "", err
	}
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return "", err
	}
	id, err := v.store.Create(ctx, userID, form)
	if err != nil {
		return "", v.writeError(ctx, log.OpCreate, err)
	}
	return id, nil
}

func (v *View) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	if err := v.checkBound(userID); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := v.store.Update(ctx, userID, id, patch); err != nil {
		return v.writeError(ctx, log.OpUpdate, err)
	}
	return nil
}

func (v *View) Delete(ctx context.Context, userID, id string) error {
	if err := v.checkBound(userID); err != nil {
		return err
	}
	if err := v.store.Delete(ctx, userID, id); err != nil {
		return v.writeError(ctx, log.OpDelete, err)
	}
	return nil
}

// checkBound fails unless the view is currently bound to userID. Another
// sign-in on the same browser rebinds the view.
func (v *View) checkBound(userID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bound || userID == "" || v.user.ID != userID {
		return core.ErrNotAuthenticated
	}
	return nil
}

func (v *View) writeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrNotAuthenticated) || core.IsValidation(err) {
		return err
	}
	v.logger.ErrorContext(ctx, "Write failed", log.FieldOperation, op, log.FieldError, err)
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}

// Watch returns a channel that receives a value right away and then after
// every state change. Bursts collapse into one value. The channel is closed
// when ctx is done or the session closes.
func (v *View) Watch(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	out <- struct{}{}
	go func() {
		defer close(out)
		for {
			v.mu.Lock()
			ch, closed := v.changed, v.closed
			v.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// notifyLocked wakes every watcher. The caller holds mu.
func (v *View) notifyLocked() {
	if v.closed {
		return
	}
	close(v.changed)
	v.changed = make(chan struct{})
}

func (v *View) groupCountLocked() int {
	return len(dashboard.GroupByMonth(dashboard.Apply(v.txs, v.filter)))
}

func (v *View) clampLocked() {
	v.cursor = v.cursor.Clamp(v.groupCountLocked())
}
