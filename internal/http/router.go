// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The webhook route always answers 2xx so the gateway never replays
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/config"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/gateway"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/http/handlers"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/http/middleware"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/search"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/services"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/webhook"
)

// Deps carries the externally constructed collaborators the router wires
// together. The dedup primitives are shared: the dispatcher and the sender
// must see the same fingerprints and locks for echo suppression to work.
type Deps struct {
	DB      *gorm.DB
	Index   search.Index
	Gateway gateway.Sender
	Model   llm.Completer
	CRM     services.CRMApplier
	Prints  *dedup.FingerprintStore
	Locks   *dedup.LockTable
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and assembles the inbound pipeline (dispatcher → reply → send).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Compression
//  7. Metrics
//  8. Rate limiter (per client IP)
//  9. CORS
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (256 KiB; webhook payloads are small)
	r.Use(limitBody(256 << 10))

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 9) CORS (allow all when no origins configured; the API is operator-facing)
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← db/index/gateway/model/crm/dedup
	replySvc := &services.ReplyService{
		DB:              d.DB,
		Index:           d.Index,
		LLM:             d.Model,
		HistoryWindow:   cfg.HistoryWindow,
		DefaultTimezone: cfg.DefaultTimezone,
	}
	senderSvc := &services.SenderService{
		Locks:       d.Locks,
		Prints:      d.Prints,
		Gateway:     d.Gateway,
		LockTimeout: cfg.LockTimeout,
		DedupTTL:    cfg.DedupTTL,
	}
	leadSvc := &services.LeadService{
		DB:    d.DB,
		Index: d.Index,
		LLM:   d.Model,
		CRM:   d.CRM,
	}

	dispatcher := webhook.NewDispatcher(
		dedup.NewEchoFilter(d.Prints),
		d.Prints,
		cfg.DedupTTL,
		replyAndSend(replySvc, senderSvc),
		log.With().Str("component", "dispatcher").Logger(),
	)

	h := handlers.New(dispatcher, senderSvc, leadSvc, d.DB)

	// Gateway-facing ingestion
	r.POST("/webhook", h.PostWebhook)

	// Operator API
	api := r.Group("/api/v1")
	{
		api.POST("/messages", h.PostMessage)
		api.POST("/leads", h.PostLead)
		api.GET("/schedules/:id/calendar.ics", h.GetScheduleCalendar)
	}
}

// replyAndSend builds the dispatcher's forward hook: draft a reply for the
// inbound event and deliver it under the contact lock. Failures end the
// conversation turn here; the lead can always write again.
func replyAndSend(reply *services.ReplyService, sender *services.SenderService) webhook.Handler {
	return func(ctx context.Context, ev webhook.InboundEvent) {
		text, err := reply.Reply(ctx, ev)
		switch {
		case errors.Is(err, services.ErrHumanHandoff):
			log.Info().Str("contact", ev.ContactID).Msg("contact awaits human follow-up, reply skipped")
			return
		case err != nil:
			log.Error().Err(err).Str("contact", ev.ContactID).Msg("reply generation failed")
			return
		}
		if err := sender.Send(ctx, ev.ContactID, text); err != nil {
			log.Error().Err(err).Str("contact", ev.ContactID).Msg("reply delivery failed")
		}
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; reads beyond the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
