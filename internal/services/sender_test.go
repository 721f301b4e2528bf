package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
)

// fakeGateway records sends and can simulate latency and failures.
type fakeGateway struct {
	mu    sync.Mutex
	sent  []string
	err   error
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (g *fakeGateway) SendText(_ context.Context, phone, message string) error {
	cur := g.inFlight.Add(1)
	for {
		max := g.maxInFlight.Load()
		if cur <= max || g.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	defer g.inFlight.Add(-1)

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return g.err
	}
	g.mu.Lock()
	g.sent = append(g.sent, phone+"|"+message)
	g.mu.Unlock()
	return nil
}

func newSender(g *fakeGateway) (*SenderService, *dedup.FingerprintStore) {
	prints := dedup.NewFingerprintStore()
	return &SenderService{
		Locks:       dedup.NewLockTable(time.Minute),
		Prints:      prints,
		Gateway:     g,
		LockTimeout: 500 * time.Millisecond,
		DedupTTL:    time.Minute,
	}, prints
}

func TestSend_DeliversAndRecordsFingerprint(t *testing.T) {
	g := &fakeGateway{}
	svc, prints := newSender(g)

	if err := svc.Send(context.Background(), "5585999990000", "Oi, Maria!"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(g.sent) != 1 || g.sent[0] != "5585999990000|Oi, Maria!" {
		t.Errorf("sent = %v", g.sent)
	}
	if !prints.Seen("5585999990000", "Oi, Maria!") {
		t.Error("fingerprint not recorded after delivery")
	}
}

func TestSend_GatewayFailureDoesNotRecordFingerprint(t *testing.T) {
	g := &fakeGateway{err: errors.New("instance disconnected")}
	svc, prints := newSender(g)

	err := svc.Send(context.Background(), "5585999990000", "Oi, Maria!")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if prints.Seen("5585999990000", "Oi, Maria!") {
		t.Error("failed send must not suppress a later retry")
	}

	// lock must be free again for the retry
	g.err = nil
	if err := svc.Send(context.Background(), "5585999990000", "Oi, Maria!"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestSend_LockTimeoutPassesThrough(t *testing.T) {
	g := &fakeGateway{delay: 200 * time.Millisecond}
	svc, _ := newSender(g)
	svc.LockTimeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Send(context.Background(), "5585999990000", "primeira")
	}()
	time.Sleep(30 * time.Millisecond) // let the first send take the lock

	err := svc.Send(context.Background(), "5585999990000", "segunda")
	if !errors.Is(err, dedup.ErrLockTimeout) {
		t.Errorf("err = %v, want dedup.ErrLockTimeout", err)
	}
	<-done
}

func TestSend_BurstIsSerializedPerContact(t *testing.T) {
	g := &fakeGateway{delay: 10 * time.Millisecond}
	svc, _ := newSender(g)
	svc.LockTimeout = time.Second

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.Send(context.Background(), "5585999990000", "msg "+string(rune('a'+i))); err != nil {
				t.Errorf("Send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := g.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent gateway calls = %d, want 1", got)
	}
	if len(g.sent) != 5 {
		t.Errorf("delivered %d messages, want 5", len(g.sent))
	}
}

func TestSend_DistinctContactsProceedConcurrently(t *testing.T) {
	g := &fakeGateway{delay: 50 * time.Millisecond}
	svc, _ := newSender(g)

	start := time.Now()
	var wg sync.WaitGroup
	for _, phone := range []string{"5585999990001", "5585999990002", "5585999990003"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if err := svc.Send(context.Background(), p, "oi"); err != nil {
				t.Errorf("Send(%s): %v", p, err)
			}
		}(phone)
	}
	wg.Wait()

	// serialized execution would take at least 150ms
	if elapsed := time.Since(start); elapsed > 120*time.Millisecond {
		t.Errorf("distinct contacts appear serialized: %v", elapsed)
	}
}
