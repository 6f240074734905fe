// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the storage, cache,
// processing pipeline, retention and HTTP adapter settings together with
// logging and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-chat-store/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StorageConfig configures the SQLite message store and its cache.
type StorageConfig struct {
	DBPath          string // DB_PATH
	BackupDir       string // BACKUP_DIR
	CacheEnabled    bool   // CACHE_ENABLED
	CacheCapacity   int    // CACHE_CAPACITY
	MaxStorageBytes int64  // MAX_STORAGE_BYTES, 0 = unlimited
}

// QueueConfig configures the message processing pipeline.
type QueueConfig struct {
	Capacity          int           // QUEUE_CAPACITY
	MaxRetries        int           // MAX_RETRIES
	ProcessInterval   time.Duration // PROCESS_INTERVAL
	RetryInterval     time.Duration // RETRY_INTERVAL
	ProcessingEnabled bool          // PROCESSING_ENABLED
}

// RetentionConfig configures history retention and scheduled cleanup.
type RetentionConfig struct {
	Enabled           bool          // HISTORY_ENABLED
	RetentionDays     int           // RETENTION_DAYS
	MaxMessages       int64         // MAX_MESSAGES
	Strategy          string        // CLEANUP_STRATEGY: age|count|size|manual
	AutoCleanup       bool          // AUTO_CLEANUP
	CleanupInterval   time.Duration // CLEANUP_INTERVAL
	MaxDeletePerCycle int           // MAX_DELETE_PER_CYCLE
}

// Config holds all configuration values for the application.
type Config struct {
	// HTTP adapter
	HTTPEnabled       bool          // HTTP_ENABLED
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	Storage   StorageConfig
	Queue     QueueConfig
	Retention RetentionConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
		// HTTP adapter
		HTTPEnabled:       getbool("HTTP_ENABLED", true),
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      getint64("MAX_BODY_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Storage: StorageConfig{
			DBPath:          getenv("DB_PATH", "chat_messages.db"),
			BackupDir:       getenv("BACKUP_DIR", "backups"),
			CacheEnabled:    getbool("CACHE_ENABLED", true),
			CacheCapacity:   getint("CACHE_CAPACITY", 1000),
			MaxStorageBytes: getint64("MAX_STORAGE_BYTES", 1<<30),
		},
		Queue: QueueConfig{
			Capacity:          getint("QUEUE_CAPACITY", 1000),
			MaxRetries:        getint("MAX_RETRIES", 3),
			ProcessInterval:   getdur("PROCESS_INTERVAL", 100*time.Millisecond),
			RetryInterval:     getdur("RETRY_INTERVAL", 5*time.Second),
			ProcessingEnabled: getbool("PROCESSING_ENABLED", true),
		},
		Retention: RetentionConfig{
			Enabled:           getbool("HISTORY_ENABLED", true),
			RetentionDays:     getint("RETENTION_DAYS", 365),
			MaxMessages:       getint64("MAX_MESSAGES", 100000),
			Strategy:          strings.ToLower(strings.TrimSpace(getenv("CLEANUP_STRATEGY", "age"))),
			AutoCleanup:       getbool("AUTO_CLEANUP", true),
			CleanupInterval:   getdur("CLEANUP_INTERVAL", 24*time.Hour),
			MaxDeletePerCycle: getint("MAX_DELETE_PER_CYCLE", 10000),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-store"),
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
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Storage.CacheCapacity < 1 {
		return cfg, errors.New("CACHE_CAPACITY must be >= 1")
	}
	if cfg.Storage.MaxStorageBytes < 0 {
		return cfg, errors.New("MAX_STORAGE_BYTES must be >= 0")
	}
	if cfg.Queue.Capacity < 1 {
		return cfg, errors.New("QUEUE_CAPACITY must be >= 1")
	}
	if cfg.Queue.MaxRetries < 0 {
		return cfg, errors.New("MAX_RETRIES must be >= 0")
	}
	if cfg.Queue.ProcessInterval <= 0 || cfg.Queue.RetryInterval <= 0 {
		return cfg, errors.New("PROCESS_INTERVAL and RETRY_INTERVAL must be positive durations")
	}
	if cfg.Retention.RetentionDays < 1 {
		return cfg, errors.New("RETENTION_DAYS must be >= 1")
	}
	if cfg.Retention.MaxMessages < 1 {
		return cfg, errors.New("MAX_MESSAGES must be >= 1")
	}
	switch cfg.Retention.Strategy {
	case "age", "count", "size", "manual":
	default:
		return cfg, errors.New("CLEANUP_STRATEGY must be one of: age, count, size, manual")
	}
	if cfg.Retention.CleanupInterval <= 0 {
		return cfg, errors.New("CLEANUP_INTERVAL must be a positive duration")
	}
	if cfg.Retention.MaxDeletePerCycle < 1 {
		return cfg, errors.New("MAX_DELETE_PER_CYCLE must be >= 1")
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
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	if sysutil.IsTruthy(v) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
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
