// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database selection, Telegram integration
// defaults, the refresh schedule, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // REFRESH_TIMEZONE must resolve in minimal images
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS  bool
	HSTSMaxAge  time.Duration
	AdminAPIKey string // ADMIN_API_KEY; empty disables the admin key check
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pipoca-broadcast")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the persistence backend.
type DBConfig struct {
	Driver      string // sqlite|postgres
	Path        string // SQLite path
	DatabaseURL string // Postgres DSN
	RedisURL    string // optional; enables the Redis run lock
}

// TelegramConfig holds the bot API wiring and the defaults seeded into the
// settings table on first use.
type TelegramConfig struct {
	APIEndpoint     string        // printf pattern with token and method
	HTTPTimeout     time.Duration // per provider call
	SendInterval    time.Duration // minimum spacing between sendMessage calls
	DeleteInterval  time.Duration // minimum spacing between deleteMessage calls
	DefaultBotToken string
	DefaultGroupID  string
	DefaultAutoPost bool
	LockTTL         time.Duration // run lock lease duration
}

// RefreshConfig controls the scheduled daily refresh.
type RefreshConfig struct {
	Enabled  bool
	Schedule string        // standard 5-field cron spec
	Timezone string        // IANA zone
	Timeout  time.Duration // upper bound for one scheduled run
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DB DBConfig

	// Telegram integration
	Telegram TelegramConfig
	Refresh  RefreshConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0), // 0 derives from REFRESH_TIMEOUT below
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DB: DBConfig{
			Driver:      strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:        getenv("DB_PATH", "app.db"),
			DatabaseURL: getenv("DATABASE_URL", ""),
			RedisURL:    getenv("REDIS_URL", ""),
		},

		// Telegram
		Telegram: TelegramConfig{
			APIEndpoint:     getenv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
			HTTPTimeout:     getdur("TELEGRAM_HTTP_TIMEOUT", 15*time.Second),
			SendInterval:    getdur("TELEGRAM_SEND_INTERVAL", time.Second),
			DeleteInterval:  getdur("TELEGRAM_DELETE_INTERVAL", 300*time.Millisecond),
			DefaultBotToken: getenv("TELEGRAM_DEFAULT_BOT_TOKEN", ""),
			DefaultGroupID:  getenv("TELEGRAM_DEFAULT_GROUP_ID", ""),
			DefaultAutoPost: getbool("TELEGRAM_DEFAULT_AUTO_POST", false),
			LockTTL:         getdur("TELEGRAM_LOCK_TTL", 30*time.Minute),
		},
		Refresh: RefreshConfig{
			Enabled:  getbool("REFRESH_ENABLED", false),
			Schedule: getenv("REFRESH_SCHEDULE", "0 9 * * *"),
			Timezone: getenv("REFRESH_TIMEZONE", "America/Sao_Paulo"),
			Timeout:  getdur("REFRESH_TIMEOUT", 30*time.Minute),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS:  getbool("ENABLE_HSTS", false),
			HSTSMaxAge:  getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			AdminAPIKey: getenv("ADMIN_API_KEY", ""),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pipoca-broadcast"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	// refresh-daily answers only after the full run, so by default the write
	// deadline outlasts it. An explicit WRITE_TIMEOUT caps what the caller
	// waits for; the refresh itself keeps running detached.
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.Refresh.Timeout + time.Minute
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.Count(cfg.Telegram.APIEndpoint, "%s") != 2 {
		return cfg, errors.New("TELEGRAM_API_ENDPOINT must contain two %s verbs (token, method)")
	}
	if cfg.Telegram.HTTPTimeout <= 0 {
		return cfg, errors.New("TELEGRAM_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Telegram.SendInterval < 0 || cfg.Telegram.DeleteInterval < 0 {
		return cfg, errors.New("TELEGRAM_SEND_INTERVAL and TELEGRAM_DELETE_INTERVAL must be >= 0")
	}
	if cfg.Telegram.LockTTL <= 0 {
		return cfg, errors.New("TELEGRAM_LOCK_TTL must be > 0")
	}
	if cfg.Refresh.Enabled && strings.TrimSpace(cfg.Refresh.Schedule) == "" {
		return cfg, errors.New("REFRESH_SCHEDULE must not be empty when REFRESH_ENABLED")
	}
	if _, err := time.LoadLocation(cfg.Refresh.Timezone); err != nil {
		return cfg, errors.New("REFRESH_TIMEZONE must be a valid IANA time zone")
	}
	if cfg.Refresh.Timeout <= 0 {
		return cfg, errors.New("REFRESH_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
