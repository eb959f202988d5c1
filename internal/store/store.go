// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// Repository persists whole interview sessions. Every implementation stores
// and returns deep copies, so a retried Save of the same session is idempotent.
type Repository interface {
	// Get retrieves a session by id. It returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Save creates or replaces a session. Creating a session beyond the
	// configured capacity first evicts idle sessions, then fails with domain.ErrCapacity.
	Save(ctx context.Context, session *domain.Session) error

	// Update replaces an existing session and fails with domain.ErrNotFound
	// when it is gone, so a removed session is never written back.
	Update(ctx context.Context, session *domain.Session) error

	// Delete removes a session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteIdle removes sessions not updated within ttl and returns their ids.
	DeleteIdle(ctx context.Context, ttl time.Duration) ([]string, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Limits bounds the number of live sessions.
type Limits struct {
	// MaxSessions is the live-session cap. Zero means unlimited.
	MaxSessions int
	// IdleTTL is how long a session may go without updates before it is
	// eligible for eviction when the store is full.
	IdleTTL time.Duration
}
