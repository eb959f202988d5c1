package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the TTL worker looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// EvictCallback is called with the id of every session removed by the TTL worker.
type EvictCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically removes
// sessions idle for longer than ttl. It stops when ctx is done; the returned
// channel is closed once it has.
func StartTTLWorker(ctx context.Context, repo Repository, ttl, interval time.Duration, onEvict EvictCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				SweepIdle(ctx, repo, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// SweepIdle runs one eviction pass and returns the number of sessions removed.
func SweepIdle(ctx context.Context, repo Repository, ttl time.Duration, onEvict EvictCallback) int {
	ids, err := repo.DeleteIdle(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to delete idle sessions", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	for _, id := range ids {
		slog.Info("TTL worker evicted session", "session_id", id)
		if onEvict != nil {
			onEvict(id)
		}
	}
	slog.Info("TTL worker cleanup completed", "evicted", len(ids))
	return len(ids)
}
