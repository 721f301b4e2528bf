package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
)

type forwarded struct {
	mu     sync.Mutex
	events []InboundEvent
}

func (f *forwarded) handler() Handler {
	return func(_ context.Context, ev InboundEvent) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}
}

func (f *forwarded) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestDispatcher(t *testing.T, ttl time.Duration) (*Dispatcher, *dedup.FingerprintStore, *forwarded) {
	t.Helper()
	prints := dedup.NewFingerprintStore()
	fwd := &forwarded{}
	d := NewDispatcher(dedup.NewEchoFilter(prints), prints, ttl, fwd.handler(), zerolog.Nop())
	return d, prints, fwd
}

func TestHandleInbound_ForwardsAndRecordsFingerprint(t *testing.T) {
	d, prints, fwd := newTestDispatcher(t, time.Minute)

	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "text": {"message": "Posso amanhã às 09:00?"}}`))

	if fwd.count() != 1 {
		t.Fatalf("forwarded %d events, want 1", fwd.count())
	}
	if !prints.Seen("c1", "posso amanhã às 09:00?") {
		t.Fatalf("accepted inbound must leave a fingerprint")
	}
}

func TestHandleInbound_DuplicateWithinWindowDropped(t *testing.T) {
	d, _, fwd := newTestDispatcher(t, time.Minute)
	body := []byte(`{"phone": "c1", "text": {"message": "Posso amanhã às 09:00?"}}`)

	d.HandleInbound(context.Background(), body)
	d.HandleInbound(context.Background(), body)

	if fwd.count() != 1 {
		t.Fatalf("forwarded %d events, duplicate delivery must be dropped", fwd.count())
	}
}

func TestHandleInbound_CaseWhitespaceVariantIsSameFingerprint(t *testing.T) {
	d, _, fwd := newTestDispatcher(t, time.Minute)

	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "text": {"message": "Posso amanhã às 09:00?"}}`))
	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "text": {"message": "  POSSO   amanhã às 09:00? "}}`))

	if fwd.count() != 1 {
		t.Fatalf("forwarded %d events, normalization variants must dedup", fwd.count())
	}
}

func TestHandleInbound_SelfOriginSuppressed(t *testing.T) {
	d, prints, fwd := newTestDispatcher(t, time.Minute)

	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "fromMe": true, "text": {"message": "resposta do bot"}}`))

	if fwd.count() != 0 {
		t.Fatalf("self-origin event must never reach the handler")
	}
	if prints.Seen("c1", "resposta do bot") {
		t.Fatalf("suppressed event must not record a fingerprint")
	}
}

func TestHandleInbound_ReflectedOutboundSuppressed(t *testing.T) {
	d, prints, fwd := newTestDispatcher(t, time.Minute)

	// The sender recorded this text after a successful outbound send.
	prints.Record("c1", "Podemos falar hoje às 16:30?", time.Minute)

	// The gateway reflects it back without the fromMe flag.
	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "text": {"message": "Podemos falar hoje às 16:30?"}}`))

	if fwd.count() != 0 {
		t.Fatalf("reflected outbound text must be suppressed")
	}
}

func TestHandleInbound_UnrecognizedShapesAbsorbed(t *testing.T) {
	d, _, fwd := newTestDispatcher(t, time.Minute)

	// None of these may panic, error, or reach the handler.
	bodies := []string{
		`{"type": "DeliveryCallback", "phone": "c1"}`,
		`{"phone": "c1", "video": {"url": "https://x"}}`,
		`not json at all`,
		`{}`,
	}
	for _, b := range bodies {
		d.HandleInbound(context.Background(), []byte(b))
	}
	if fwd.count() != 0 {
		t.Fatalf("forwarded %d events from unrecognized payloads", fwd.count())
	}
}

func TestHandleInbound_DistinctContactsDoNotCrossDedup(t *testing.T) {
	d, _, fwd := newTestDispatcher(t, time.Minute)

	d.HandleInbound(context.Background(), []byte(`{"phone": "c1", "text": {"message": "mesma mensagem"}}`))
	d.HandleInbound(context.Background(), []byte(`{"phone": "c2", "text": {"message": "mesma mensagem"}}`))

	if fwd.count() != 2 {
		t.Fatalf("forwarded %d events, same text from different contacts must both pass", fwd.count())
	}
}
