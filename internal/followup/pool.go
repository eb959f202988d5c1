package followup

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gateway"
)

// DefaultCallTimeout bounds one gateway call including its retries.
const DefaultCallTimeout = 15 * time.Second

// Pool runs gateway calls on their own goroutines, at most size at a time,
// and bounds each call with a timeout. A call that times out counts as no result.
type Pool struct {
	gw      gateway.Gateway
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// NewPool wraps gw. Non-positive size or timeout fall back to defaults.
func NewPool(gw gateway.Gateway, size int64, timeout time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 16
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Pool{gw: gw, sem: semaphore.NewWeighted(size), timeout: timeout, logger: logger}
}

type poolResult struct {
	text string
	ok   bool
}

// GenerateFollowup implements gateway.Gateway.
func (p *Pool) GenerateFollowup(ctx context.Context, answer string, topic domain.Topic, log []domain.ConversationEntry) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("gateway pool saturated", "topic", topic.Name, "error", err)
		return "", false
	}

	log = slices.Clone(log)
	topic = topic.Clone()
	done := make(chan poolResult, 1)
	go func() {
		defer p.sem.Release(1)
		text, ok := p.gw.GenerateFollowup(ctx, answer, topic, log)
		done <- poolResult{text: text, ok: ok}
	}()

	select {
	case r := <-done:
		if ctx.Err() != nil {
			return "", false
		}
		return r.text, r.ok
	case <-ctx.Done():
		p.logger.Warn("gateway call abandoned", "topic", topic.Name, "error", ctx.Err())
		return "", false
	}
}
