package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by store and test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*FingerprintStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	s := NewFingerprintStore()
	s.now = clk.Now
	return s, clk
}

func TestSeen_LifecycleAroundRecordAndExpiry(t *testing.T) {
	s, clk := newTestStore(t)

	if s.Seen("5511999999999", "Posso amanhã às 09:00?") {
		t.Fatalf("Seen should be false before any Record")
	}

	s.Record("5511999999999", "Posso amanhã às 09:00?", time.Minute)
	if !s.Seen("5511999999999", "Posso amanhã às 09:00?") {
		t.Fatalf("Seen should be true immediately after Record")
	}

	clk.Advance(time.Minute + time.Second)
	if s.Seen("5511999999999", "Posso amanhã às 09:00?") {
		t.Fatalf("Seen should be false once now > expiry")
	}
}

func TestSeen_ExpiredEntryIsEvictedLazily(t *testing.T) {
	s, clk := newTestStore(t)

	s.Record("c1", "hello", time.Second)
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	clk.Advance(2 * time.Second)
	if s.Seen("c1", "hello") {
		t.Fatalf("expired fingerprint must read as absent")
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len = %d after lazy eviction, want 0", got)
	}
}

func TestRecord_IsIdempotentAndRefreshesExpiry(t *testing.T) {
	s, clk := newTestStore(t)

	s.Record("c1", "oi", time.Minute)
	clk.Advance(50 * time.Second)
	// Re-record near expiry: the window restarts.
	s.Record("c1", "oi", time.Minute)
	clk.Advance(50 * time.Second)

	if !s.Seen("c1", "oi") {
		t.Fatalf("refreshed fingerprint should still be live 50s after re-record")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, double Record must not duplicate entries", got)
	}
}

func TestNormalization_CaseAndWhitespaceCollapse(t *testing.T) {
	s, _ := newTestStore(t)

	s.Record("c1", "  Posso   AMANHÃ às\t09:00? ", time.Minute)

	variants := []string{
		"posso amanhã às 09:00?",
		"POSSO AMANHÃ ÀS 09:00?",
		"Posso amanhã  às   09:00?",
		"\tPosso amanhã às 09:00?\n",
	}
	for _, v := range variants {
		if !s.Seen("c1", v) {
			t.Errorf("Seen(%q) = false, variant should share the fingerprint", v)
		}
	}

	if s.Seen("c1", "Posso amanhã às 10:00?") {
		t.Errorf("different text must not share the fingerprint")
	}
	if s.Seen("c2", "posso amanhã às 09:00?") {
		t.Errorf("same text for another contact must not share the fingerprint")
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	s, clk := newTestStore(t)

	s.Record("c1", "short lived", time.Second)
	s.Record("c2", "long lived", time.Hour)
	clk.Advance(2 * time.Second)

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if !s.Seen("c2", "long lived") {
		t.Fatalf("Sweep must not evict live fingerprints")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d after sweep, want 1", got)
	}
}

func TestFingerprintStore_ConcurrentRecordAndSeen(t *testing.T) {
	s := NewFingerprintStore() // real clock: entries stay live for the test

	const goroutines = 16
	const perG = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			contact := fmt.Sprintf("contact-%d", g%4)
			for i := 0; i < perG; i++ {
				text := fmt.Sprintf("msg %d", i%50)
				s.Record(contact, text, time.Minute)
				s.Seen(contact, text)
			}
		}(g)
	}
	wg.Wait()

	// 4 contacts x 50 distinct texts.
	if got := s.Len(); got != 200 {
		t.Fatalf("Len = %d after concurrent writes, want 200", got)
	}
}
