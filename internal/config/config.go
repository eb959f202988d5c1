// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Gateway providers.
const (
	ProviderNone = "none"
	ProviderHTTP = "http"
	ProviderGRPC = "grpc"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
}

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	ExportDir      string
	Interview      InterviewConfig
	Gateway        GatewayConfig
	Store          StoreConfig
	Transcript     TranscriptConfig
	RateLimit      RateLimitConfig
}

// InterviewConfig holds the interview thresholds.
type InterviewConfig struct {
	TotalQuestions          int
	MinAnswerLength         int
	MaxFollowupsPerQuestion int
	MaxDepthScore           int
	CatalogPath             string // empty uses the embedded catalog
	DepthKeywords           []string
	CommonKeywords          []string
}

// GatewayConfig selects and tunes the follow-up generation service.
type GatewayConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	GRPCAddr          string
	Timeout           time.Duration
	AttemptTimeout    time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxFollowupLength int
	RequestsPerSecond float64
	Burst             int
	PoolSize          int
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxSessions   int
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// TranscriptConfig controls per-session NDJSON transcripts.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// RateLimitConfig bounds per-client HTTP request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("CORS_ORIGINS", slices.Clone(defaultOrigins)),
		ExportDir:      getEnv("EXPORT_DIR", "./data/exports"),
		Interview: InterviewConfig{
			TotalQuestions:          getEnvInt("TOTAL_QUESTIONS", 6),
			MinAnswerLength:         getEnvInt("MIN_ANSWER_LENGTH", 30),
			MaxFollowupsPerQuestion: getEnvInt("MAX_FOLLOWUPS_PER_QUESTION", 1),
			MaxDepthScore:           getEnvInt("MAX_DEPTH_SCORE", 3),
			CatalogPath:             getEnv("CATALOG_PATH", ""),
			DepthKeywords:           getEnvList("DEPTH_KEYWORDS", nil),
			CommonKeywords:          getEnvList("COMMON_KEYWORDS", nil),
		},
		Gateway: GatewayConfig{
			Provider:          strings.ToLower(getEnv("API_PROVIDER", ProviderNone)),
			BaseURL:           getEnv("API_BASE_URL", "https://api.deepseek.com"),
			APIKey:            getEnv("API_KEY", ""),
			Model:             getEnv("API_MODEL", "deepseek-chat"),
			GRPCAddr:          getEnv("FOLLOWUP_GRPC_ADDR", "localhost:50051"),
			Timeout:           getEnvDuration("API_TIMEOUT", 0),
			AttemptTimeout:    getEnvDuration("API_ATTEMPT_TIMEOUT", 5*time.Second),
			MaxAttempts:       getEnvInt("API_MAX_ATTEMPTS", 3),
			BaseDelay:         getEnvDuration("API_RETRY_DELAY", time.Second),
			MaxFollowupLength: getEnvInt("MAX_FOLLOWUP_LENGTH", 25),
			RequestsPerSecond: getEnvFloat("API_RATE_LIMIT", 5),
			Burst:             getEnvInt("API_RATE_BURST", 10),
			PoolSize:          getEnvInt("API_CONCURRENCY", 16),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			DBPath:        getEnv("DB_PATH", "./data/interviews.db"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			MaxSessions:   getEnvInt("MAX_SESSIONS", 100),
			SessionTTL:    getEnvDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/logs/interviews"),
			QueueSize: queueSize,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("HTTP_RATE_LIMIT", 10),
			Burst:             getEnvInt("HTTP_RATE_BURST", 20),
		},
	}
	if cfg.FrontendURL != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, cfg.FrontendURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Interview.TotalQuestions <= 0 {
		return fmt.Errorf("TOTAL_QUESTIONS must be > 0")
	}
	if c.Interview.MinAnswerLength < 0 {
		return fmt.Errorf("MIN_ANSWER_LENGTH must be >= 0")
	}
	if c.Interview.MaxFollowupsPerQuestion <= 0 {
		return fmt.Errorf("MAX_FOLLOWUPS_PER_QUESTION must be > 0")
	}
	if c.Interview.MaxDepthScore <= 0 {
		return fmt.Errorf("MAX_DEPTH_SCORE must be > 0")
	}

	switch c.Gateway.Provider {
	case ProviderNone:
	case ProviderHTTP:
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("API_BASE_URL cannot be empty when API_PROVIDER=http")
		}
		if c.Gateway.APIKey == "" {
			return fmt.Errorf("API_KEY cannot be empty when API_PROVIDER=http")
		}
	case ProviderGRPC:
		if c.Gateway.GRPCAddr == "" {
			return fmt.Errorf("FOLLOWUP_GRPC_ADDR cannot be empty when API_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("unknown API_PROVIDER %q", c.Gateway.Provider)
	}
	if c.Gateway.MaxAttempts <= 0 {
		return fmt.Errorf("API_MAX_ATTEMPTS must be > 0")
	}
	if c.Gateway.AttemptTimeout <= 0 {
		return fmt.Errorf("API_ATTEMPT_TIMEOUT must be > 0")
	}
	if c.Gateway.Timeout < 0 {
		return fmt.Errorf("API_TIMEOUT must be >= 0")
	}
	if budget := c.Gateway.RetryBudget(); c.Gateway.Timeout > 0 && c.Gateway.Timeout < budget {
		return fmt.Errorf("API_TIMEOUT (%s) must cover %d attempts of API_ATTEMPT_TIMEOUT plus backoff (%s)",
			c.Gateway.Timeout, c.Gateway.MaxAttempts, budget)
	}
	if c.Gateway.MaxFollowupLength <= 0 {
		return fmt.Errorf("MAX_FOLLOWUP_LENGTH must be > 0")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty when STORE_BACKEND=sqlite")
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0")
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}

	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// RetryBudget is the time MaxAttempts attempts of AttemptTimeout take,
// with the exponential backoff from BaseDelay between them.
func (g GatewayConfig) RetryBudget() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		total += g.AttemptTimeout
		if attempt < g.MaxAttempts-1 {
			total += g.BaseDelay * time.Duration(1<<attempt)
		}
	}
	return total
}

// CallTimeout is the deadline for one follow-up call including retries:
// Timeout when set, otherwise RetryBudget.
func (g GatewayConfig) CallTimeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return g.RetryBudget()
}
