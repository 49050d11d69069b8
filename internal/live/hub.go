// Package live fans out per-user transaction snapshots to subscribers.
package live

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Loader reads a user's current collection, newest first.
type Loader func(ctx context.Context, userID string) ([]core.Transaction, error)

// Hub keeps the subscribers of every user and pushes a freshly loaded snapshot
// to them whenever Notify is called for that user.
//
// Every load takes a sequence number when it starts. Subscribers drop any
// snapshot older than the last one they accepted, so concurrent loads can
// finish in any order without a reader going back in time.
type Hub struct {
	load   Loader
	logger *log.Logger
	group  singleflight.Group
	seq    atomic.Uint64

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func NewHub(load Loader, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Discard()
	}
	return &Hub{
		load:   load,
		logger: logger.WithComponent(log.ComponentLive),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a reader for userID and queues the initial snapshot
// before returning. The channel is closed when ctx is done or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan store.Snapshot, error) {
	if userID == "" {
		return nil, core.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan store.Snapshot, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	sub.offer(h.initial(ctx, userID))

	go func() {
		<-ctx.Done()
		h.remove(userID, sub)
	}()

	h.logger.DebugContext(ctx, "Subscriber added", log.FieldUserID, userID)
	return sub.ch, nil
}

// Notify reloads userID's collection and delivers it to every current
// subscriber. It returns once the snapshot is queued.
func (h *Hub) Notify(ctx context.Context, userID string) {
	// Later initial loads must not join a load that started before the write.
	h.group.Forget(userID)

	targets := h.subscribers(userID)
	if len(targets) == 0 {
		return
	}
	snap := h.fetch(context.WithoutCancel(ctx), userID)
	for _, s := range targets {
		s.offer(snap)
	}
	h.logger.DebugContext(ctx, "Snapshot delivered",
		log.FieldUserID, userID,
		log.FieldSeq, snap.Seq,
		log.FieldCount, len(targets))
}

// Subscribers returns how many readers userID currently has.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close closes every subscriber channel. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[string]map[*subscriber]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.close()
		}
	}
}

// initial coalesces concurrent first loads for the same user.
func (h *Hub) initial(ctx context.Context, userID string) store.Snapshot {
	v, _, _ := h.group.Do(userID, func() (any, error) {
		return h.fetch(context.WithoutCancel(ctx), userID), nil
	})
	return v.(store.Snapshot)
}

func (h *Hub) fetch(ctx context.Context, userID string) store.Snapshot {
	seq := h.seq.Add(1)
	txs, err := h.load(ctx, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "Snapshot load failed",
			log.FieldUserID, userID,
			log.FieldError, err)
		return store.Snapshot{UserID: userID, Seq: seq, Err: err}
	}
	return store.Snapshot{UserID: userID, Seq: seq, Transactions: txs}
}

func (h *Hub) subscribers(userID string) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[userID]
	out := make([]*subscriber, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, userID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// subscriber holds a one-slot mailbox. A new snapshot replaces an unread one.
type subscriber struct {
	mu     sync.Mutex
	ch     chan store.Snapshot
	last   uint64
	closed bool
}

func (s *subscriber) offer(snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || snap.Seq <= s.last {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	// Only offer sends, and it holds mu, so the slot is free here.
	s.ch <- snap
	s.last = snap.Seq
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
