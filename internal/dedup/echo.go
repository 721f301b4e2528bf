package dedup

// Suppression reasons reported by EchoFilter, used as log fields and metric
// labels by the dispatcher.
const (
	ReasonSelfOrigin = "self_origin"
	ReasonDuplicate  = "duplicate"
)

// EchoFilter decides whether an inbound event is a reflection of the bot's
// own prior outbound message (the gateway echoes sends back on the webhook)
// or a duplicate delivery. It only reads the fingerprint store; recording
// accepted events is the dispatcher's job.
type EchoFilter struct {
	prints *FingerprintStore
}

// NewEchoFilter builds a filter over the shared fingerprint store.
func NewEchoFilter(prints *FingerprintStore) *EchoFilter {
	return &EchoFilter{prints: prints}
}

// Suppress reports whether the event must be dropped and why.
//
// A self-origin event (fromSelf set by the gateway payload) is always
// suppressed, regardless of fingerprint state. Otherwise the event is
// suppressed when its normalized text already carries an unexpired
// fingerprint for the contact: either the bot's own recent outbound
// reflected back without the self flag, or a redelivered inbound.
func (f *EchoFilter) Suppress(contactID, text string, fromSelf bool) (bool, string) {
	if fromSelf {
		return true, ReasonSelfOrigin
	}
	if f.prints.Seen(contactID, text) {
		return true, ReasonDuplicate
	}
	return false, ""
}
