// Package services – ReplyService
//
// This file implements ReplyService, the application-level component that
// turns an inbound lead message into the next SDR reply. It upserts the
// contact, loads the recent conversation window, grounds the model with
// retrieval over the configured search.Index, calls the language model, and
// persists the user/assistant message pair atomically.
//
// Control markers emitted by the model are acted on here: a schedule marker
// creates a Schedule row and a handoff marker flags the contact for human
// follow-up. Marker lines never reach the lead.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// the contact identifier and reply disposition.

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/ics"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/search"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/sysutil"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/webhook"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// contextTopK bounds how many knowledge chunks ground each reply.
	contextTopK = 3

	// handoffReply is sent when the model asked for a human and left no
	// other visible text.
	handoffReply = "Vou te conectar com uma pessoa da nossa equipe, um instante!"
)

// ReplyService coordinates contact state, retrieval grounding, and the
// language model to produce the next outbound reply.
type ReplyService struct {
	DB    *gorm.DB
	Index search.Index
	LLM   llm.Completer

	// HistoryWindow is how many prior messages are replayed to the model.
	HistoryWindow int

	// DefaultTimezone anchors date talk for contacts without a stored zone.
	DefaultTimezone string

	Clock func() time.Time
}

// Reply drafts the next reply for the inbound event and persists both sides
// of the exchange. The returned text is ready for delivery: clamped to three
// lines with control markers stripped.
func (s *ReplyService) Reply(ctx context.Context, ev webhook.InboundEvent) (string, error) {
	tr := otel.Tracer("services/ReplyService")
	ctx, span := tr.Start(ctx, "Reply",
		trace.WithAttributes(attribute.String("contact.id", ev.ContactID)),
	)
	defer span.End()

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	if err := repo.UpsertContact(ctx, s.DB, &domain.Contact{
		Phone: ev.ContactID,
		Name:  ev.SenderName,
	}); err != nil {
		return "", err
	}
	contact, err := repo.GetContact(ctx, s.DB, ev.ContactID)
	if err != nil {
		return "", err
	}
	if contact.NeedsHuman {
		// Keep the transcript complete for the operator taking over.
		_, _ = repo.CreateMessage(s.DB.WithContext(ctx), ev.ContactID, roleUser, text)
		return "", ErrHumanHandoff
	}

	history, err := repo.RecentMessages(s.DB.WithContext(ctx), ev.ContactID, s.historyWindow())
	if err != nil {
		return "", err
	}

	messages := s.buildMessages(contact, history, text)

	raw, err := s.LLM.Complete(ctx, messages)
	if err != nil {
		// keep the lead's message even when no reply could be drafted
		_, _ = repo.CreateMessage(s.DB.WithContext(ctx), ev.ContactID, roleUser, text)
		return "", fmt.Errorf("%w: %v", ErrReplyFailed, err)
	}

	reply := llm.ClampLines(raw)
	visible, sched, human := extractMarkers(reply)

	if sched != nil {
		if err := s.recordSchedule(ctx, contact, sched); err != nil {
			span.RecordError(err)
		} else {
			span.SetAttributes(attribute.Bool("reply.scheduled", true))
		}
	}
	if human {
		if err := repo.MarkNeedsHuman(ctx, s.DB, ev.ContactID, true); err != nil {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("reply.handoff", true))
	}
	if visible == "" {
		if !human {
			// keep the lead's message even when no reply could be drafted
			_, _ = repo.CreateMessage(s.DB.WithContext(ctx), ev.ContactID, roleUser, text)
			return "", ErrReplyFailed
		}
		visible = handoffReply
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(tx, ev.ContactID, roleUser, text); err != nil {
			return err
		}
		_, err := repo.CreateMessage(tx, ev.ContactID, roleAssistant, visible)
		return err
	})
	if err != nil {
		return "", err
	}

	return visible, nil
}

// buildMessages assembles the completion request: rendered persona plus
// optional knowledge context as the system turn, then the stored history,
// then the lead's latest message.
func (s *ReplyService) buildMessages(contact *domain.Contact, history []domain.Message, text string) []llm.ChatMessage {
	tz := sysutil.FirstNonEmpty(contact.Timezone, s.DefaultTimezone)
	system := llm.LeadContext{
		LeadName:   contact.Name,
		CourseName: contact.Course,
		LeadPhone:  contact.Phone,
		LeadEmail:  contact.Email,
		Timezone:   tz,
	}.Render(s.now())

	if s.Index != nil {
		if kb := search.BuildContext(s.Index, text, contextTopK); kb != "" {
			system += "\n\nBase de conhecimento (use quando relevante):\n" + kb
		}
	}

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, llm.ChatMessage{Role: roleUser, Content: text})
}

// recordSchedule persists the confirmed slot and folds marker fields the
// lead supplied (email, course) back into the contact.
func (s *ReplyService) recordSchedule(ctx context.Context, contact *domain.Contact, m *ScheduleMarker) error {
	tz := sysutil.FirstNonEmpty(contact.Timezone, s.DefaultTimezone)
	startsAt, err := ics.ParseLocal(m.Date, m.Hour, tz)
	if err != nil {
		return err
	}
	if _, err := repo.CreateSchedule(ctx, s.DB, contact.Phone, startsAt, m.DurationMin, m.MinGapMin); err != nil {
		return err
	}
	if m.Email != "" || m.Course != "" {
		return repo.UpsertContact(ctx, s.DB, &domain.Contact{
			Phone:  contact.Phone,
			Course: m.Course,
			Email:  m.Email,
		})
	}
	return nil
}

func (s *ReplyService) historyWindow() int {
	if s.HistoryWindow <= 0 {
		return 12
	}
	return s.HistoryWindow
}

func (s *ReplyService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
