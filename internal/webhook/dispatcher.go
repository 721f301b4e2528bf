package webhook

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
)

var inboundEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inbound_events_total",
		Help: "Inbound webhook events by dispatch outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(inboundEvents)
}

// Handler consumes an event that survived the dedup/anti-loop checks.
// Implementations typically run the reply pipeline and the outbound sender;
// they are invoked synchronously, so callers that must return to the gateway
// quickly should hand the dispatcher a handler that spawns its own work.
type Handler func(ctx context.Context, ev InboundEvent)

// Dispatcher normalizes raw webhook payloads and applies, in order: the echo
// filter (self-origin and recently-exchanged text), the duplicate-delivery
// check, and fingerprint recording. Surviving events are forwarded to the
// handler. Every failure mode is absorbed; the webhook must always look
// successful to the gateway.
type Dispatcher struct {
	echo    *dedup.EchoFilter
	prints  *dedup.FingerprintStore
	ttl     time.Duration
	forward Handler
	log     zerolog.Logger
}

// NewDispatcher wires the dedup core in front of the downstream handler.
// ttl is the dedup window applied to accepted inbound fingerprints.
func NewDispatcher(echo *dedup.EchoFilter, prints *dedup.FingerprintStore, ttl time.Duration, forward Handler, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{echo: echo, prints: prints, ttl: ttl, forward: forward, log: log}
}

// HandleInbound processes one raw webhook body. It never returns an error:
// drops are terminal, logged, and counted, and the caller reports success to
// the gateway regardless.
func (d *Dispatcher) HandleInbound(ctx context.Context, raw []byte) {
	ev := Decode(raw)

	switch ev.Kind {
	case KindIgnored:
		d.log.Debug().Str("contact", ev.ContactID).Str("reason", ev.Reason).Msg("inbound ignored")
		inboundEvents.WithLabelValues("ignored").Inc()
		return
	case KindUnknown:
		d.log.Warn().Str("reason", ev.Reason).Msg("inbound payload not understood, dropping")
		inboundEvents.WithLabelValues("unknown").Inc()
		return
	}

	if suppress, reason := d.echo.Suppress(ev.ContactID, ev.Text, ev.FromSelf); suppress {
		d.log.Debug().Str("contact", ev.ContactID).Str("reason", reason).Msg("inbound suppressed")
		inboundEvents.WithLabelValues(reason).Inc()
		return
	}

	d.prints.Record(ev.ContactID, ev.Text, d.ttl)
	inboundEvents.WithLabelValues("forwarded").Inc()
	d.log.Info().
		Str("contact", ev.ContactID).
		Int("text_len", len(ev.Text)).
		Time("received_at", ev.ReceivedAt).
		Msg("inbound accepted")

	d.forward(ctx, ev)
}
