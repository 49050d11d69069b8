package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *clock) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)
	var removed []string
	c.OnRemove(func(key, _ string) { removed = append(removed, key) })

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("a = %q, %v", v, ok)
	}
	if len(removed) != 1 || removed[0] != "b" {
		t.Fatalf("removed = %v", removed)
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	var removed []string
	c.OnRemove(func(key, _ string) { removed = append(removed, key) })

	c.Set("a", "1")
	c.Set("b", "2")
	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "2") // refreshes b's TTL
	clk.t = clk.t.Add(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b should still be live")
	}

	clk.t = clk.t.Add(time.Hour)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Fatalf("Size = %d", c.Size())
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v", removed)
	}
}

func TestLRUDeleteNotifies(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	var removed []string
	c.OnRemove(func(key, data string) { removed = append(removed, key+"="+data) })

	c.Set("a", "1")
	c.Delete("a")
	c.Delete("a")
	if len(removed) != 1 || removed[0] != "a=1" {
		t.Fatalf("removed = %v", removed)
	}
}

func TestManagerSweep(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "1")
	clk.t = clk.t.Add(2 * time.Minute)

	m := NewManager(nil)
	m.Register(c)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestLRUPurgeNotifiesEveryEntry(t *testing.T) {
	c, _ := newTestCache(5, time.Hour)
	removed := map[string]bool{}
	c.OnRemove(func(key, _ string) { removed[key] = true })

	c.Set("a", "1")
	c.Set("b", "2")

	if n := c.Purge(); n != 2 {
		t.Fatalf("Purge = %d, want 2", n)
	}
	if c.Size() != 0 || !removed["a"] || !removed["b"] {
		t.Fatalf("size %d, removed %v", c.Size(), removed)
	}
	c.Set("c", "3")
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Fatal("cache unusable after Purge")
	}
}
