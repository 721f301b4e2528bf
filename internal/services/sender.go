package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/gateway"
)

var outboundSends = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbound_sends_total",
		Help: "Outbound send attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(outboundSends)
}

// SenderService serializes outbound delivery per contact. At most one send
// per contact is in flight at a time; the message fingerprint is recorded
// only after the gateway accepts the message, so a failed send never
// suppresses a later retry.
type SenderService struct {
	Locks   *dedup.LockTable
	Prints  *dedup.FingerprintStore
	Gateway gateway.Sender

	// LockTimeout bounds how long Send waits for the contact's turn.
	LockTimeout time.Duration

	// DedupTTL is the lifetime of the fingerprint recorded after delivery.
	DedupTTL time.Duration
}

// Send delivers one text to the contact under the per-contact lock.
// dedup.ErrLockTimeout is returned unwrapped when the slot could not be
// acquired in time; gateway failures come back wrapped in ErrSendFailed.
func (s *SenderService) Send(ctx context.Context, contactID, text string) error {
	tr := otel.Tracer("services/SenderService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(attribute.String("contact.id", contactID)),
	)
	defer span.End()

	token, err := s.Locks.Acquire(contactID, s.LockTimeout)
	if err != nil {
		outboundSends.WithLabelValues("lock_timeout").Inc()
		span.RecordError(err)
		return err
	}
	defer s.Locks.Release(contactID, token)

	if err := s.Gateway.SendText(ctx, contactID, text); err != nil {
		outboundSends.WithLabelValues("gateway_error").Inc()
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.Prints.Record(contactID, text, s.DedupTTL)
	outboundSends.WithLabelValues("sent").Inc()
	return nil
}
