package http

import (
	"sync"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/session"
	"fintrack/internal/store"
)

// viewRegistry holds one dashboard view per browser. Views idle longer than
// the TTL, or evicted by newer ones, are closed.
type viewRegistry struct {
	mu     sync.Mutex
	views  *cache.LRUCache[*session.View]
	store  store.TransactionStore
	opts   session.Options
	logger *log.Logger
}

func newViewRegistry(s store.TransactionStore, maxViews int, ttl time.Duration, opts session.Options, logger *log.Logger) *viewRegistry {
	reg := &viewRegistry{
		store:  s,
		opts:   opts,
		logger: logger,
	}
	reg.views = cache.NewLRUCache[*session.View](maxViews, ttl).
		OnRemove(func(clientID string, v *session.View) {
			v.Close()
			reg.logger.Debug("Dashboard view closed", "client_id", clientID)
		})
	return reg
}

// get returns the view for clientID, creating it on first use. Every access
// renews the view's TTL.
func (reg *viewRegistry) get(clientID string) *session.View {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	v, ok := reg.views.Get(clientID)
	if !ok {
		v = session.NewView(reg.store, reg.opts, reg.logger)
	}
	reg.views.Set(clientID, v)
	return v
}

// lookup returns an existing view without creating one.
func (reg *viewRegistry) lookup(clientID string) (*session.View, bool) {
	return reg.views.Get(clientID)
}

func (reg *viewRegistry) drop(clientID string) {
	reg.views.Delete(clientID)
}

func (reg *viewRegistry) size() int {
	return reg.views.Size()
}

func (reg *viewRegistry) CleanExpired() int {
	return reg.views.CleanExpired()
}

func (reg *viewRegistry) closeAll() int {
	return reg.views.Purge()
}
