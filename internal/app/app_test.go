package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/api"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interview"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:      "0",
		ExportDir: filepath.Join(dir, "exports"),
		Interview: config.InterviewConfig{
			TotalQuestions:          2,
			MinAnswerLength:         30,
			MaxFollowupsPerQuestion: 1,
			MaxDepthScore:           3,
		},
		Gateway: config.GatewayConfig{Provider: config.ProviderNone, MaxAttempts: 1},
		Store: config.StoreConfig{
			Backend:     config.BackendMemory,
			MaxSessions: 10,
			SessionTTL:  time.Hour,
		},
		Transcript: config.TranscriptConfig{Enabled: true, Dir: filepath.Join(dir, "logs"), QueueSize: 16},
	}
}

func TestNewWiresMemoryStore(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	s, err := a.Engine.StartSession(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalQuestions())

	require.Contains(t, a.Health, "store")
	assert.NotContains(t, a.Health, "gateway")
	assert.NoError(t, a.Health["store"].Ping(context.Background()))

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "second close is a no-op")

	_, err = os.Stat(filepath.Join(cfg.Transcript.Dir, s.ID+".ndjson"))
	assert.NoError(t, err, "transcript flushed on close")
}

func TestNewWiresSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "db", "interviews.db")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.Engine.StartSession(context.Background(), "", nil)
	require.NoError(t, err)

	got, err := a.Engine.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = testConfig(t)
	cfg.Gateway.Provider = "carrier-pigeon"
	_, err = New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown gateway provider")
}

func TestNewHTTPProviderRegistersGatewayHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway = config.GatewayConfig{
		Provider:          config.ProviderHTTP,
		BaseURL:           "http://127.0.0.1:1",
		APIKey:            "k",
		Model:             "m",
		AttemptTimeout:    time.Second,
		MaxAttempts:       1,
		MaxFollowupLength: 25,
		PoolSize:          2,
	}
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, a.Health, "gateway")
}

func TestOpenGatewayRetriesStalledProvider(t *testing.T) {
	var calls atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"后来呢？"}}]}`)
	}))
	defer provider.Close()

	cfg := config.GatewayConfig{
		Provider:          config.ProviderHTTP,
		BaseURL:           provider.URL,
		APIKey:            "k",
		Model:             "m",
		AttemptTimeout:    300 * time.Millisecond,
		MaxAttempts:       3,
		BaseDelay:         10 * time.Millisecond,
		MaxFollowupLength: 25,
		PoolSize:          1,
	}
	a := &App{Health: map[string]api.Pinger{}, logger: slog.New(slog.DiscardHandler)}
	gw, err := a.openGateway(cfg)
	require.NoError(t, err)

	topic := domain.Topic{Name: "学校-智育", CoreQuestion: "说说你在课程学习中遇到的一次难题。"}
	got, ok := gw.GenerateFollowup(context.Background(), "我花了一周时间复习高数，最后考过了", topic, nil)
	require.True(t, ok, "second attempt should answer within the call deadline")
	assert.Equal(t, "后来呢？", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExportFileName(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	assert.Equal(t, "interview_访谈者_ab12_20240305_140709.json", ExportFileName("访谈者_ab12", at))
	assert.Equal(t, "interview_a_b_20240305_140709.json", ExportFileName("../a/b", at))
	assert.Equal(t, "interview_session_20240305_140709.json", ExportFileName("", at))
}

func TestExportSummary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sum := interview.Summary{SessionID: "s1", UserName: "bob"}

	path, err := ExportSummary(dir, sum, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "interview_bob_20240102_030405.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s1", got["session_id"])
}
