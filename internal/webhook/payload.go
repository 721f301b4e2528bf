// Package webhook normalizes the messaging gateway's heterogeneous callback
// payloads into one canonical inbound event and runs the dedup/anti-loop
// checks before handing surviving events to the reply pipeline.
//
// The gateway posts several JSON shapes to the same URL: plain text messages,
// ephemeral (disappearing) messages with the text nested one level deeper,
// and notification-only envelopes (delivery receipts, presence, read
// statuses). Decoding is a tagged-variant step: every shape maps to an
// explicit event kind and unrecognized payloads decode to KindUnknown rather
// than erroring, because a webhook URL that returns errors gets disabled or
// retry-stormed by the gateway.
package webhook

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind tags the decoded variant.
type EventKind int

const (
	// KindText is an actionable user message.
	KindText EventKind = iota
	// KindIgnored is a recognized, deliberately skipped payload
	// (status notification, group chat traffic, empty text).
	KindIgnored
	// KindUnknown is a payload shape this service does not understand.
	KindUnknown
)

// InboundEvent is the canonical form of one webhook delivery. It is owned by
// the dispatcher for the duration of processing and not retained afterward;
// only its fingerprint survives.
type InboundEvent struct {
	Kind       EventKind
	ContactID  string // gateway phone id, the dedup contact key
	SenderName string
	Text       string
	FromSelf   bool // gateway reflected the bot's own outbound message
	ReceivedAt time.Time

	// Reason explains KindIgnored/KindUnknown for logs.
	Reason string
}

// envelope covers every field any known gateway callback shape may carry.
// Shapes are distinguished by which fields are populated, not by a reliable
// discriminator, so decoding tries the shapes in order of specificity.
type envelope struct {
	Type       string `json:"type"`
	Phone      string `json:"phone"`
	FromMe     bool   `json:"fromMe"`
	IsGroup    bool   `json:"isGroup"`
	SenderName string `json:"senderName"`
	Momment    int64  `json:"momment"` // gateway's (sic) epoch-millis receipt time

	// Plain text shape: {"text": {"message": "..."}}
	Text *struct {
		Message string `json:"message"`
	} `json:"text"`

	// Ephemeral shape nests the text two envelopes deep.
	Message *struct {
		EphemeralMessage *struct {
			Message *struct {
				ExtendedTextMessage *struct {
					Text string `json:"text"`
				} `json:"extendedTextMessage"`
			} `json:"message"`
		} `json:"ephemeralMessage"`
	} `json:"message"`

	// Notification-only envelopes carry a status and no text.
	Status string `json:"status"`
}

// notificationTypes are callback types that never carry a user message.
var notificationTypes = map[string]struct{}{
	"DeliveryCallback":      {},
	"MessageStatusCallback": {},
	"PresenceChatCallback":  {},
	"ConnectedCallback":     {},
	"DisconnectedCallback":  {},
}

// Decode parses a raw webhook body into an InboundEvent. It never fails:
// malformed JSON and unrecognized shapes come back as KindUnknown.
func Decode(raw []byte) InboundEvent {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundEvent{Kind: KindUnknown, Reason: "malformed JSON"}
	}

	if _, ok := notificationTypes[env.Type]; ok {
		return InboundEvent{Kind: KindIgnored, ContactID: env.Phone, Reason: "notification envelope"}
	}
	if env.Status != "" && env.Text == nil && env.Message == nil {
		return InboundEvent{Kind: KindIgnored, ContactID: env.Phone, Reason: "status-only envelope"}
	}

	text := ""
	switch {
	case env.Text != nil:
		text = env.Text.Message
	case env.Message != nil &&
		env.Message.EphemeralMessage != nil &&
		env.Message.EphemeralMessage.Message != nil &&
		env.Message.EphemeralMessage.Message.ExtendedTextMessage != nil:
		text = env.Message.EphemeralMessage.Message.ExtendedTextMessage.Text
	default:
		return InboundEvent{Kind: KindUnknown, ContactID: env.Phone, Reason: "unrecognized payload shape"}
	}

	if env.Phone == "" {
		return InboundEvent{Kind: KindUnknown, Reason: "message without phone"}
	}
	if env.IsGroup {
		return InboundEvent{Kind: KindIgnored, ContactID: env.Phone, Reason: "group message"}
	}
	if strings.TrimSpace(text) == "" {
		return InboundEvent{Kind: KindIgnored, ContactID: env.Phone, Reason: "empty text"}
	}

	receivedAt := time.Now().UTC()
	if env.Momment > 0 {
		receivedAt = time.UnixMilli(env.Momment).UTC()
	}

	return InboundEvent{
		Kind:       KindText,
		ContactID:  env.Phone,
		SenderName: env.SenderName,
		Text:       text,
		FromSelf:   env.FromMe,
		ReceivedAt: receivedAt,
	}
}
