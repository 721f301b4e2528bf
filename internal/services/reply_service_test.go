package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/search"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/webhook"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeCompleter returns a canned reply and captures the request messages.
type fakeCompleter struct {
	reply string
	err   error
	got   []llm.ChatMessage
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.ChatMessage) (string, error) {
	f.got = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newReplyService(db *gorm.DB, fc *fakeCompleter) *ReplyService {
	return &ReplyService{
		DB:              db,
		LLM:             fc,
		HistoryWindow:   6,
		DefaultTimezone: llm.DefaultTimezone,
		Clock:           func() time.Time { return time.Date(2025, 9, 1, 15, 0, 0, 0, time.UTC) },
	}
}

func inbound(text string) webhook.InboundEvent {
	return webhook.InboundEvent{
		Kind:       webhook.KindText,
		ContactID:  "5585999990000",
		SenderName: "Maria",
		Text:       text,
	}
}

func TestReply_PersistsExchangeAndContact(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{reply: "Oi, Maria! Sou a Ana, do CENAT.\nPodemos falar hoje 16:30 ou amanhã 10:00?"}
	svc := newReplyService(db, fc)

	got, err := svc.Reply(context.Background(), inbound("Oi, tenho interesse na pós"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != fc.reply {
		t.Errorf("reply = %q", got)
	}

	contact, err := repo.GetContact(context.Background(), db, "5585999990000")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.Name != "Maria" {
		t.Errorf("contact name = %q", contact.Name)
	}

	msgs, err := repo.RecentMessages(db, "5585999990000", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != roleUser || msgs[0].Content != "Oi, tenho interesse na pós" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != roleAssistant || msgs[1].Content != fc.reply {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestReply_FeedsHistoryAndPersonaToModel(t *testing.T) {
	db := newTestDB(t)
	seedExchange(t, db, "5585999990000",
		"Oi, tudo bem?",
		"Oi, Maria! Sou a Ana, do CENAT. Podemos agendar sua ligação?",
	)
	fc := &fakeCompleter{reply: "Perfeito! Qual horário prefere?"}
	svc := newReplyService(db, fc)

	if _, err := svc.Reply(context.Background(), inbound("Pode ser amanhã")); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	// system + 2 history turns + latest user message
	if len(fc.got) != 4 {
		t.Fatalf("model saw %d messages, want 4", len(fc.got))
	}
	if fc.got[0].Role != "system" || !strings.Contains(fc.got[0].Content, "Você é ANA, SDR do CENAT") {
		t.Errorf("system turn = %.60q", fc.got[0].Content)
	}
	if fc.got[1].Content != "Oi, tudo bem?" || fc.got[1].Role != roleUser {
		t.Errorf("history[0] = %+v", fc.got[1])
	}
	if fc.got[3].Content != "Pode ser amanhã" || fc.got[3].Role != roleUser {
		t.Errorf("latest turn = %+v", fc.got[3])
	}
}

func TestReply_IncludesKnowledgeContext(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{reply: "A pós tem 18 meses de duração. Podemos agendar?"}
	svc := newReplyService(db, fc)
	svc.Index = search.NewIndexFromChunks([]search.Chunk{
		{Source: "produtos/pos.md", Category: "produtos", Title: "Pos Psicologia", Text: "A pós em Psicologia Clínica dura 18 meses com aulas quinzenais."},
	})

	if _, err := svc.Reply(context.Background(), inbound("Quanto tempo dura a pós em psicologia?")); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if !strings.Contains(fc.got[0].Content, "Base de conhecimento") {
		t.Error("system turn missing knowledge section")
	}
	if !strings.Contains(fc.got[0].Content, "18 meses") {
		t.Error("system turn missing retrieved chunk")
	}
}

func TestReply_ScheduleMarkerCreatesSchedule(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{reply: "Confirmado amanhã às 10:00, Maria!\n" +
		"#AGENDAR|data=2025-09-02|hora=10:00|duracao=20|min_gap=5|lead=Maria|curso=Psicologia Clínica|contato=whatsapp:5585999990000|email=maria@email.com"}
	svc := newReplyService(db, fc)

	got, err := svc.Reply(context.Background(), inbound("Pode ser amanhã às 10h"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if strings.Contains(got, "#AGENDAR") {
		t.Errorf("marker leaked into visible reply: %q", got)
	}

	var schedules []domain.Schedule
	if err := db.Find(&schedules).Error; err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("got %d schedules, want 1", len(schedules))
	}
	// 10:00 in Fortaleza (UTC-3) is 13:00 UTC
	if want := time.Date(2025, 9, 2, 13, 0, 0, 0, time.UTC); !schedules[0].StartsAt.Equal(want) {
		t.Errorf("StartsAt = %v, want %v", schedules[0].StartsAt, want)
	}

	contact, err := repo.GetContact(context.Background(), db, "5585999990000")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.Email != "maria@email.com" || contact.Course != "Psicologia Clínica" {
		t.Errorf("marker fields not folded into contact: %+v", contact)
	}
}

func TestReply_HandoffMarkerFlagsContact(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{reply: "#HUMANO"}
	svc := newReplyService(db, fc)

	got, err := svc.Reply(context.Background(), inbound("Quero falar sobre bolsa integral"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != handoffReply {
		t.Errorf("reply = %q, want handoff fallback", got)
	}

	contact, err := repo.GetContact(context.Background(), db, "5585999990000")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if !contact.NeedsHuman {
		t.Error("contact not flagged for human follow-up")
	}
}

func TestReply_FlaggedContactGetsNoReply(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&domain.Contact{Phone: "5585999990000", Name: "Maria", NeedsHuman: true}).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	fc := &fakeCompleter{reply: "should never be used"}
	svc := newReplyService(db, fc)

	_, err := svc.Reply(context.Background(), inbound("Alguém pode me ajudar?"))
	if !errors.Is(err, ErrHumanHandoff) {
		t.Fatalf("err = %v, want ErrHumanHandoff", err)
	}
	if fc.got != nil {
		t.Error("model must not be called for flagged contacts")
	}

	msgs, err := repo.RecentMessages(db, "5585999990000", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "Alguém pode me ajudar?" {
		t.Errorf("messages = %+v, want the user turn kept for the operator", msgs)
	}
}

func TestReply_ModelFailureKeepsUserMessage(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{err: errors.New("upstream 500")}
	svc := newReplyService(db, fc)

	_, err := svc.Reply(context.Background(), inbound("Oi"))
	if !errors.Is(err, ErrReplyFailed) {
		t.Fatalf("err = %v, want ErrReplyFailed", err)
	}

	msgs, err := repo.RecentMessages(db, "5585999990000", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != roleUser {
		t.Errorf("messages = %+v, want only the user turn", msgs)
	}
}

func TestReply_MarkerOnlyDraftKeepsUserMessage(t *testing.T) {
	db := newTestDB(t)
	fc := &fakeCompleter{reply: "#AGENDAR|data=2025-09-02|hora=10:00"}
	svc := newReplyService(db, fc)

	_, err := svc.Reply(context.Background(), inbound("Pode ser amanhã às 10h"))
	if !errors.Is(err, ErrReplyFailed) {
		t.Fatalf("err = %v, want ErrReplyFailed", err)
	}

	msgs, err := repo.RecentMessages(db, "5585999990000", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != roleUser {
		t.Errorf("messages = %+v, want only the user turn", msgs)
	}
}

func TestReply_EmptyText(t *testing.T) {
	svc := newReplyService(newTestDB(t), &fakeCompleter{reply: "oi"})

	if _, err := svc.Reply(context.Background(), inbound("   ")); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func seedExchange(t *testing.T, db *gorm.DB, phone string, turns ...string) {
	t.Helper()
	if err := db.Create(&domain.Contact{Phone: phone, Name: "Maria"}).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	for i, content := range turns {
		role := roleUser
		if i%2 == 1 {
			role = roleAssistant
		}
		if _, err := repo.CreateMessage(db, phone, role, content); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
}
