package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interview.TotalQuestions != 6 || cfg.Interview.MinAnswerLength != 30 {
		t.Fatalf("unexpected interview defaults: %+v", cfg.Interview)
	}
	if cfg.Gateway.Provider != ProviderNone || cfg.Store.Backend != BackendMemory {
		t.Fatalf("unexpected backends: %q %q", cfg.Gateway.Provider, cfg.Store.Backend)
	}
	if cfg.Store.SessionTTL != time.Hour || cfg.Store.MaxSessions != 100 {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_PROVIDER", "HTTP")
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("API_RATE_LIMIT", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Provider != ProviderHTTP || cfg.Gateway.APIKey != "sk-test" {
		t.Fatalf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Store.SessionTTL != 30*time.Minute {
		t.Fatalf("expected 30m TTL, got %v", cfg.Store.SessionTTL)
	}
	if got := strings.Join(cfg.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins: %s", got)
	}
	if cfg.Gateway.RequestsPerSecond != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.Gateway.RequestsPerSecond)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"http without key", map[string]string{"API_PROVIDER": "http"}, "API_KEY"},
		{"unknown provider", map[string]string{"API_PROVIDER": "carrier-pigeon"}, "API_PROVIDER"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "etcd"}, "STORE_BACKEND"},
		{"zero questions", map[string]string{"TOTAL_QUESTIONS": "0"}, "TOTAL_QUESTIONS"},
		{"zero sessions", map[string]string{"MAX_SESSIONS": "0"}, "MAX_SESSIONS"},
		{"call timeout shorter than retries", map[string]string{"API_TIMEOUT": "5s", "API_ATTEMPT_TIMEOUT": "5s"}, "API_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGatewayCallTimeout(t *testing.T) {
	t.Setenv("API_ATTEMPT_TIMEOUT", "2s")
	t.Setenv("API_MAX_ATTEMPTS", "3")
	t.Setenv("API_RETRY_DELAY", "100ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Three attempts plus 100ms and 200ms of backoff.
	if got, want := cfg.Gateway.CallTimeout(), 6300*time.Millisecond; got != want {
		t.Fatalf("derived CallTimeout = %v; want %v", got, want)
	}

	t.Setenv("API_TIMEOUT", "30s")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Gateway.CallTimeout(); got != 30*time.Second {
		t.Fatalf("explicit CallTimeout = %v; want 30s", got)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "soon")
	t.Setenv("MAX_SESSIONS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.SessionTTL != time.Hour || cfg.Store.MaxSessions != 100 {
		t.Fatalf("expected defaults, got %+v", cfg.Store)
	}
}
