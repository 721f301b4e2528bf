// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the messaging gateway credentials, the
// LLM completion API, and the dedup/lock core tunables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-sdr-whatsapp")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GatewayConfig holds the credentials and timeouts for the hosted WhatsApp
// messaging gateway (Z-API style HTTP send API).
type GatewayConfig struct {
	BaseURL       string        // ZAPI_BASE_URL
	InstanceID    string        // ZAPI_INSTANCE_ID (required)
	InstanceToken string        // ZAPI_INSTANCE_TOKEN (required)
	ClientToken   string        // ZAPI_CLIENT_TOKEN (optional account security token)
	Timeout       time.Duration // ZAPI_TIMEOUT per send call
}

// LLMConfig holds settings for the OpenAI-compatible chat completions API.
type LLMConfig struct {
	APIKey      string        // OPENAI_API_KEY (required)
	BaseURL     string        // OPENAI_BASE_URL
	Model       string        // MODEL_NAME
	Temperature float64       // MODEL_TEMPERATURE
	MaxTokens   int           // MODEL_MAX_TOKENS
	Timeout     time.Duration // OPENAI_TIMEOUT per completion call
}

// CRMConfig holds settings for the RD Station CRM integration. DryRun
// defaults to true so a bare deployment never writes to the CRM by accident.
type CRMConfig struct {
	BaseURL     string        // RD_BASE_URL
	AccessToken string        // RD_ACCESS_TOKEN (required when DryRun is false)
	DryRun      bool          // RD_DRY_RUN
	Timeout     time.Duration // RD_TIMEOUT per CRM call
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath          string // SQLite path (conversation history, schedules)
	DataPath        string // root of the retrieval corpus (data/{produtos,empresas})
	HistoryWindow   int    // messages of history fed to the LLM
	DefaultTimezone string // IANA zone applied when a contact has none

	// Dedup / anti-loop core. DedupTTL and LockTimeout are required inputs:
	// the deployment always sets them and no default is documented.
	DedupTTL    time.Duration // DEDUP_TTL (required)
	LockTimeout time.Duration // LOCK_TIMEOUT (required)
	LockHoldTTL time.Duration // LOCK_HOLD_TTL, max time one send may hold a contact

	// Rate limiting (inbound webhook, per sender)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// External collaborators
	Gateway GatewayConfig
	LLM     LLMConfig
	CRM     CRMConfig

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:          getenv("DB_PATH", "app.db"),
		DataPath:        getenv("DATA_PATH", "data"),
		HistoryWindow:   getint("HISTORY_WINDOW", 20),
		DefaultTimezone: getenv("DEFAULT_TIMEZONE", "America/Fortaleza"),

		// Dedup / anti-loop core (zero means "unset"; validated below)
		DedupTTL:    getdur("DEDUP_TTL", 0),
		LockTimeout: getdur("LOCK_TIMEOUT", 0),
		LockHoldTTL: getdur("LOCK_HOLD_TTL", 90*time.Second),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Messaging gateway
		Gateway: GatewayConfig{
			BaseURL:       getenv("ZAPI_BASE_URL", "https://api.z-api.io"),
			InstanceID:    getenv("ZAPI_INSTANCE_ID", ""),
			InstanceToken: getenv("ZAPI_INSTANCE_TOKEN", ""),
			ClientToken:   getenv("ZAPI_CLIENT_TOKEN", ""),
			Timeout:       getdur("ZAPI_TIMEOUT", 15*time.Second),
		},

		// LLM completion API
		LLM: LLMConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getenv("MODEL_NAME", "gpt-4o-mini"),
			Temperature: getfloat("MODEL_TEMPERATURE", 0.2),
			MaxTokens:   getint("MODEL_MAX_TOKENS", 220),
			Timeout:     getdur("OPENAI_TIMEOUT", 60*time.Second),
		},

		// CRM (RD Station)
		CRM: CRMConfig{
			BaseURL:     getenv("RD_BASE_URL", "https://api.rd.services"),
			AccessToken: getenv("RD_ACCESS_TOKEN", ""),
			DryRun:      getbool("RD_DRY_RUN", true),
			Timeout:     getdur("RD_TIMEOUT", 15*time.Second),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-sdr-whatsapp"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.Gateway.BaseURL = strings.TrimRight(cfg.Gateway.BaseURL, "/")
	cfg.LLM.BaseURL = strings.TrimRight(cfg.LLM.BaseURL, "/")
	cfg.CRM.BaseURL = strings.TrimRight(cfg.CRM.BaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.DataPath) == "" {
		return cfg, errors.New("DATA_PATH must not be empty")
	}
	if cfg.HistoryWindow < 0 {
		return cfg, errors.New("HISTORY_WINDOW must be >= 0")
	}
	if cfg.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL is required and must be a positive duration (e.g. 2m)")
	}
	if cfg.LockTimeout <= 0 {
		return cfg, errors.New("LOCK_TIMEOUT is required and must be a positive duration (e.g. 30s)")
	}
	if cfg.LockHoldTTL < cfg.LockTimeout {
		return cfg, errors.New("LOCK_HOLD_TTL must be >= LOCK_TIMEOUT")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.Gateway.InstanceID) == "" {
		return cfg, errors.New("ZAPI_INSTANCE_ID must not be empty")
	}
	if strings.TrimSpace(cfg.Gateway.InstanceToken) == "" {
		return cfg, errors.New("ZAPI_INSTANCE_TOKEN must not be empty")
	}
	if cfg.Gateway.Timeout <= 0 || cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("ZAPI_TIMEOUT and OPENAI_TIMEOUT must be positive durations")
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return cfg, errors.New("OPENAI_API_KEY must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return cfg, errors.New("MODEL_TEMPERATURE must be in [0,2]")
	}
	if cfg.LLM.MaxTokens <= 0 {
		return cfg, errors.New("MODEL_MAX_TOKENS must be > 0")
	}
	if !cfg.CRM.DryRun && strings.TrimSpace(cfg.CRM.AccessToken) == "" {
		return cfg, errors.New("RD_ACCESS_TOKEN must not be empty when RD_DRY_RUN is off")
	}
	if cfg.CRM.Timeout <= 0 {
		return cfg, errors.New("RD_TIMEOUT must be a positive duration")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
