// Package app assembles the interview service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/interviewd/internal/answer"
	"github.com/ashureev/interviewd/internal/api"
	"github.com/ashureev/interviewd/internal/catalog"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/followup"
	"github.com/ashureev/interviewd/internal/gateway"
	"github.com/ashureev/interviewd/internal/interview"
	"github.com/ashureev/interviewd/internal/store"
	"github.com/ashureev/interviewd/internal/transcript"
)

// App holds the wired service and the resources it must release.
type App struct {
	Config *config.Config
	Engine *interview.Engine
	Store  store.Repository
	// Health lists the dependencies probed by /healthz.
	Health map[string]api.Pinger

	closers []func() error
	logger  *slog.Logger
}

// New builds every collaborator the engine needs. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Health: make(map[string]api.Pinger), logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Store = repo
	a.Health["store"] = repo
	a.closers = append(a.closers, repo.Close)
	logger.Info("Session store ready", "backend", cfg.Store.Backend)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := a.openGateway(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	proc := answer.NewProcessor(cfg.Interview.DepthKeywords, cfg.Interview.CommonKeywords, cfg.Interview.MaxDepthScore)
	gen := followup.NewGenerator(proc, gw, followup.Config{
		MinAnswerLength:         cfg.Interview.MinAnswerLength,
		MaxFollowupsPerQuestion: cfg.Interview.MaxFollowupsPerQuestion,
	}, nil, logger)

	rec, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open transcript recorder: %w", err)
	}
	// Recorder is closed first so queued events drain before the store goes away.
	a.closers = append([]func() error{rec.Close}, a.closers...)

	a.Engine = interview.New(repo, cat, proc, gen,
		interview.Config{TotalQuestions: cfg.Interview.TotalQuestions},
		interview.Options{Logger: logger, Recorder: rec},
	)
	ready = true
	return a, nil
}

// Close releases resources in order and joins their errors.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	limits := store.Limits{MaxSessions: cfg.MaxSessions, IdleTTL: cfg.SessionTTL}
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemory(limits), nil
	case config.BackendSQLite:
		repo, err := store.NewSQLite(cfg.DBPath, limits)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	case config.BackendRedis:
		repo, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, limits)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.Interview.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Interview.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	// Without a generation service every follow-up comes from the presets.
	if cfg.Gateway.Provider == config.ProviderNone {
		if err := cat.RequirePresets(); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	return cat, nil
}

func (a *App) openGateway(cfg config.GatewayConfig) (gateway.Gateway, error) {
	var completer gateway.Completer
	switch cfg.Provider {
	case config.ProviderNone:
		a.logger.Info("AI follow-ups disabled, using preset follow-ups only")
		return gateway.Disabled{}, nil
	case config.ProviderHTTP:
		completer = gateway.NewHTTPCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.AttemptTimeout)
	case config.ProviderGRPC:
		grpcCompleter, err := gateway.NewGRPCCompleter(gateway.GRPCConfig{Address: cfg.GRPCAddr}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect follow-up service: %w", err)
		}
		a.closers = append(a.closers, grpcCompleter.Close)
		completer = grpcCompleter
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}

	client := gateway.New(completer, gateway.Config{
		MaxAttempts:       cfg.MaxAttempts,
		AttemptTimeout:    cfg.AttemptTimeout,
		BaseDelay:         cfg.BaseDelay,
		MaxFollowupLength: cfg.MaxFollowupLength,
		MinAnswerLength:   gateway.DefaultConfig().MinAnswerLength,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, a.logger)
	a.Health["gateway"] = client
	a.logger.Info("AI follow-ups enabled", "provider", cfg.Provider,
		"attempt_timeout", cfg.AttemptTimeout, "call_timeout", cfg.CallTimeout())

	return followup.NewPool(client, int64(cfg.PoolSize), cfg.CallTimeout(), a.logger), nil
}
