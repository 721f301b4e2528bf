package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/config"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
)

type stubGateway struct{ sent chan string }

func (g *stubGateway) SendText(_ context.Context, phone, message string) error {
	g.sent <- phone + "|" + message
	return nil
}

type stubModel struct{ reply string }

func (m *stubModel) Complete(_ context.Context, _ []llm.ChatMessage) (string, error) {
	return m.reply, nil
}

func newRouter(t *testing.T) (*gin.Engine, *stubGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	cfg := config.Config{
		HistoryWindow:   10,
		DefaultTimezone: "America/Fortaleza",
		DedupTTL:        time.Minute,
		LockTimeout:     time.Second,
		LockHoldTTL:     time.Minute,
		RateRPS:         100,
		RateBurst:       100,
	}
	cfg.OTEL.ServiceName = "go-sdr-whatsapp-test"

	gw := &stubGateway{sent: make(chan string, 4)}
	r := gin.New()
	RegisterRoutes(r, cfg, Deps{
		DB:      db,
		Gateway: gw,
		Model:   &stubModel{reply: "Oi! Sou a Ana, do CENAT. Podemos agendar sua ligação?"},
		Prints:  dedup.NewFingerprintStore(),
		Locks:   dedup.NewLockTable(time.Minute),
	})
	return r, gw
}

func TestRouter_Health(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestRouter_UnknownRouteEnvelope(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found") {
		t.Errorf("body = %s", w.Body)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/webhook", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRouter_WebhookPipelineEndToEnd(t *testing.T) {
	r, gw := newRouter(t)
	body := `{"phone":"5585999990000","senderName":"Maria","fromMe":false,"text":{"message":"Oi, tenho interesse na pós"}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	select {
	case sent := <-gw.sent:
		if !strings.HasPrefix(sent, "5585999990000|") {
			t.Errorf("gateway saw %q", sent)
		}
		if !strings.Contains(sent, "Ana") {
			t.Errorf("reply text = %q", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply reached the gateway")
	}
}

func TestRouter_NotificationPayloadAbsorbed(t *testing.T) {
	r, gw := newRouter(t)
	body := `{"phone":"5585999990000","type":"DeliveryCallback","status":"DELIVERED"}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	select {
	case sent := <-gw.sent:
		t.Errorf("notification must not produce a reply, got %q", sent)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouter_LeadIntake(t *testing.T) {
	r, _ := newRouter(t)

	body := `{"name":"Maria","phone":"5585999990000","interest":"Pós em Saúde Mental"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/leads", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	// the stub model does not speak JSON, so the stock strategy applies
	if !strings.Contains(w.Body.String(), `"next_action":"whatsapp"`) {
		t.Errorf("body = %s", w.Body)
	}
}
