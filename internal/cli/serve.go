package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/interviewd/internal/api"
	"github.com/ashureev/interviewd/internal/app"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interview HTTP and WebSocket API",
	Long: `Serves the session REST API under /api/session, live sessions at
/ws/session/{id} and dependency health at /healthz. Configuration is read
from the environment and an optional .env file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr(), slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("Failed to release resources", "error", closeErr)
		}
	}()

	return serve(ctx, cfg, a, logger)
}

// serve runs the HTTP server and background workers until ctx is done or
// one of them fails.
func serve(ctx context.Context, cfg *config.Config, a *app.App, logger *slog.Logger) error {
	sockets := api.NewSockets()
	var limiter *api.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 0)
	}

	handler := api.NewRouter(api.RouterConfig{
		Engine:         a.Engine,
		Sockets:        sockets,
		Limiter:        limiter,
		Health:         a.Health,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment(),
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Hijacked WebSocket connections are not tracked by Shutdown; their
		// request contexts end with gctx instead.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("Server stopped successfully")
		return nil
	})

	ttlDone := store.StartTTLWorker(gctx, a.Store, cfg.Store.SessionTTL, cfg.Store.SweepInterval, func(id string) {
		a.Engine.Forget(id)
		sockets.Close(id)
	})
	g.Go(func() error {
		<-ttlDone
		return nil
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}
