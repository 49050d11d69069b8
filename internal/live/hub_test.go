package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]core.Transaction
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeSource) load(ctx context.Context, userID string) ([]core.Transaction, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]core.Transaction(nil), f.data[userID]...), nil
}

func (f *fakeSource) put(userID string, txs ...core.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string][]core.Transaction)
	}
	f.data[userID] = txs
}

func receive(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return store.Snapshot{}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.put("u1", core.Transaction{ID: "a"})
	h := NewHub(src.load, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := h.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	snap := receive(t, ch)
	if snap.Err != nil || len(snap.Transactions) != 1 || snap.Transactions[0].ID != "a" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubscribeRequiresUser(t *testing.T) {
	h := NewHub((&fakeSource{}).load, nil)
	if _, err := h.Subscribe(context.Background(), ""); !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestNotifyFansOutToUserOnly(t *testing.T) {
	src := &fakeSource{}
	h := NewHub(src.load, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a1, _ := h.Subscribe(ctx, "alice")
	a2, _ := h.Subscribe(ctx, "alice")
	b, _ := h.Subscribe(ctx, "bob")
	receive(t, a1)
	receive(t, a2)
	receive(t, b)

	src.put("alice", core.Transaction{ID: "x"})
	h.Notify(ctx, "alice")

	for _, ch := range []<-chan store.Snapshot{a1, a2} {
		snap := receive(t, ch)
		if len(snap.Transactions) != 1 || snap.Transactions[0].ID != "x" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	}
	select {
	case snap := <-b:
		t.Fatalf("bob received alice's change: %+v", snap)
	default:
	}
}

func TestSlowReaderGetsLatest(t *testing.T) {
	src := &fakeSource{}
	h := NewHub(src.load, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := h.Subscribe(ctx, "u1")
	for i := 0; i < 5; i++ {
		src.put("u1", make([]core.Transaction, i+1)...)
		h.Notify(ctx, "u1")
	}
	snap := receive(t, ch)
	if len(snap.Transactions) != 5 {
		t.Fatalf("expected the latest snapshot with 5 items, got %d", len(snap.Transactions))
	}
}

func TestSubscriberRejectsOlderSequence(t *testing.T) {
	s := &subscriber{ch: make(chan store.Snapshot, 1)}
	s.offer(store.Snapshot{Seq: 3})
	s.offer(store.Snapshot{Seq: 2})
	if got := (<-s.ch).Seq; got != 3 {
		t.Fatalf("got seq %d, want 3", got)
	}
	s.offer(store.Snapshot{Seq: 3})
	select {
	case snap := <-s.ch:
		t.Fatalf("duplicate seq delivered: %+v", snap)
	default:
	}
}

func TestLoadErrorIsDelivered(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{err: boom}
	h := NewHub(src.load, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := h.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap := receive(t, ch); !errors.Is(snap.Err, boom) {
		t.Fatalf("expected load error, got %+v", snap)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub((&fakeSource{}).load, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "u1")
	receive(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrentInitialLoadsAreShared(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	h := NewHub(src.load, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := h.Subscribe(ctx, "u1")
			if err != nil {
				t.Errorf("Subscribe: %v", err)
				return
			}
			<-ch
		}()
	}
	// Let every goroutine reach the shared load before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("u1") < 4 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.calls.Load(); got < 1 || got > 4 {
		t.Fatalf("unexpected load count %d", got)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	h := NewHub((&fakeSource{}).load, nil)
	ch, _ := h.Subscribe(context.Background(), "u1")
	receive(t, ch)
	h.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if _, err := h.Subscribe(context.Background(), "u1"); err == nil {
		t.Fatal("expected Subscribe to fail after Close")
	}
}
