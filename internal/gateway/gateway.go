// Package gateway talks to the external text-generation service that writes
// AI follow-up questions. Every failure is reported as "no result".
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/interviewd/internal/domain"
)

// Gateway generates a follow-up for an answer. It never returns an error:
// ok is false whenever no usable follow-up was produced.
type Gateway interface {
	GenerateFollowup(ctx context.Context, answer string, topic domain.Topic, log []domain.ConversationEntry) (text string, ok bool)
}

// Completer is one transport round trip to a text-generation provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Pinger is implemented by completers that can probe provider health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Request is the provider-neutral completion request.
type Request struct {
	System      string
	Prompt      string
	Topic       string
	Answer      string
	MaxTokens   int
	Temperature float64
}

// Config controls retry and validation.
type Config struct {
	// MaxAttempts is the total number of transport attempts.
	MaxAttempts int
	// AttemptTimeout bounds one transport attempt. Zero leaves it to ctx.
	AttemptTimeout time.Duration
	// BaseDelay is the first backoff; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// MaxFollowupLength is the longest accepted follow-up, in runes.
	MaxFollowupLength int
	// MinAnswerLength is the shortest answer worth sending, in runes.
	MinAnswerLength int
	// RequestsPerSecond limits outbound calls. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the production retry and validation settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		AttemptTimeout:    5 * time.Second,
		BaseDelay:         time.Second,
		MaxFollowupLength: 25,
		MinAnswerLength:   2,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Client wraps a Completer with rate limiting, bounded retry and validation.
type Client struct {
	completer Completer
	cfg       Config
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Client.
func New(completer Completer, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.AttemptTimeout < 0 {
		cfg.AttemptTimeout = 0
	}
	if cfg.MaxFollowupLength <= 0 {
		cfg.MaxFollowupLength = def.MaxFollowupLength
	}
	c := &Client{completer: completer, cfg: cfg, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Ping probes the underlying provider when it supports it.
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.completer.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// GenerateFollowup implements Gateway.
func (c *Client) GenerateFollowup(ctx context.Context, answer string, topic domain.Topic, log []domain.ConversationEntry) (string, bool) {
	answer = strings.TrimSpace(answer)
	if len([]rune(answer)) < c.cfg.MinAnswerLength {
		return "", false
	}
	req := BuildRequest(answer, topic, log, c.cfg.MaxFollowupLength)

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.logger.Warn("followup generation rate limit wait aborted", "topic", topic.Name, "error", err)
				return "", false
			}
		}

		attempts++
		start := time.Now()
		raw, err := c.complete(ctx, req)
		if err == nil {
			text, verr := Validate(raw, topic, c.cfg.MaxFollowupLength)
			if verr != nil {
				c.logger.Info("followup rejected", "topic", topic.Name, "candidate", raw, "reason", verr, "duration", time.Since(start))
				return "", false
			}
			c.logger.Debug("followup generated", "topic", topic.Name, "attempt", attempt+1, "duration", time.Since(start))
			return text, true
		}

		lastErr = err
		c.logger.Warn("followup generation attempt failed", "topic", topic.Name, "attempt", attempt+1, "duration", time.Since(start), "error", err)
		if ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.MaxAttempts-1 {
			delay := c.cfg.BaseDelay * time.Duration(1<<attempt)
			if err := sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	c.logger.Error("followup generation failed", "topic", topic.Name, "attempts", attempts, "error", lastErr)
	return "", false
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	return c.completer.Complete(ctx, req)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Disabled is the gateway used when no provider is configured.
type Disabled struct{}

// GenerateFollowup always reports no result.
func (Disabled) GenerateFollowup(context.Context, string, domain.Topic, []domain.ConversationEntry) (string, bool) {
	return "", false
}

// Validation failures.
var (
	ErrEmpty         = errors.New("empty follow-up")
	ErrRepeatsCore   = errors.New("follow-up repeats the core question")
	ErrRepeatsPreset = errors.New("follow-up repeats a preset")
	ErrTooLong       = errors.New("follow-up too long")
)

// Validate trims a candidate follow-up and checks it is novel and short enough.
func Validate(candidate string, topic domain.Topic, maxRunes int) (string, error) {
	text := strings.TrimSpace(candidate)
	switch {
	case text == "":
		return "", ErrEmpty
	case strings.Contains(topic.CoreQuestion, text):
		return "", ErrRepeatsCore
	case topic.IsPreset(text):
		return "", ErrRepeatsPreset
	}
	if n := len([]rune(text)); n > maxRunes {
		return "", fmt.Errorf("%w: %d > %d runes", ErrTooLong, n, maxRunes)
	}
	return text, nil
}
