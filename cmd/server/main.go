// Command server runs the WhatsApp SDR service: it ingests gateway webhook
// events, drafts replies with the language model, and delivers them back
// through the gateway under per-contact serialization.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/config"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/crm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/dedup"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/gateway"
	httpapi "github.com/cenatlabs/go-sdr-whatsapp/internal/http"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/llm"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/observability"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/search"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// sweepInterval is how often expired message fingerprints are collected.
const sweepInterval = 5 * time.Minute

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	idx, err := search.NewIndexFromDir(cfg.DataPath)
	if err != nil {
		// The service answers without grounding when no corpus is mounted.
		log.Warn().Err(err).Str("path", cfg.DataPath).Msg("knowledge corpus unavailable")
		idx = nil
	}

	prints := dedup.NewFingerprintStore()
	locks := dedup.NewLockTable(cfg.LockHoldTTL)

	go sweepFingerprints(ctx, prints)

	if !sysutil.IsTruthy(os.Getenv("GIN_DEBUG")) {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	httpapi.RegisterRoutes(engine, cfg, httpapi.Deps{
		DB:      db,
		Index:   idx,
		Gateway: gateway.NewClient(cfg.Gateway),
		Model:   llm.NewClient(cfg.LLM),
		CRM:     crm.NewClient(cfg.CRM),
		Prints:  prints,
		Locks:   locks,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// sweepFingerprints periodically evicts expired dedup entries so the store
// stays bounded between bursts.
func sweepFingerprints(ctx context.Context, prints *dedup.FingerprintStore) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := prints.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("fingerprint sweep")
			}
		}
	}
}
