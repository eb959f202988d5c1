// Package followup decides whether an answer needs a follow-up question and
// produces its text from the gateway or the topic's preset pool.
package followup

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ashureev/interviewd/internal/answer"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/gateway"
)

// DefaultPreset is asked when a mandatory follow-up has nowhere else to come from.
const DefaultPreset = "能再具体说说吗？"

// Decision is the outcome of Decide.
type Decision struct {
	NeedFollowup bool
	Text         string
	IsAI         bool
}

// Config holds the follow-up thresholds.
type Config struct {
	// MinAnswerLength is the rune count below which a follow-up is mandatory.
	MinAnswerLength int
	// MaxFollowupsPerQuestion caps follow-ups for one core question.
	MaxFollowupsPerQuestion int
}

// Generator implements the follow-up decision.
type Generator struct {
	proc   *answer.Processor
	gw     gateway.Gateway
	cfg    Config
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewGenerator creates a Generator. gw is called as given, so callers that
// need isolation and a timeout should pass a *Pool. A nil rng uses a random seed.
func NewGenerator(proc *answer.Processor, gw gateway.Gateway, cfg Config, rng *rand.Rand, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if gw == nil {
		gw = gateway.Disabled{}
	}
	if cfg.MaxFollowupsPerQuestion <= 0 {
		cfg.MaxFollowupsPerQuestion = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{proc: proc, gw: gw, cfg: cfg, rng: rng, logger: logger}
}

// Decide applies, in order: the per-question cap, the mandatory follow-up for
// empty or short answers, the depth threshold, and finally an optional AI
// follow-up that is dropped silently when the gateway has nothing.
func (g *Generator) Decide(ctx context.Context, ans string, topic domain.Topic, s *domain.Session) Decision {
	log := g.logger.With("session_id", s.ID, "topic", topic.Name)

	if s.CurrentFollowupCount >= g.cfg.MaxFollowupsPerQuestion {
		log.Info("followup_skipped", "reason", "max_followups", "followup_count", s.CurrentFollowupCount)
		return Decision{}
	}

	trimmed := strings.TrimSpace(ans)
	if trimmed == "" || utf8.RuneCountInString(trimmed) < g.cfg.MinAnswerLength {
		return g.generate(ctx, log, trimmed, topic, s, true)
	}

	if depth := g.proc.ScoreDepth(ans); depth >= g.proc.MaxDepth() {
		log.Info("followup_skipped", "reason", "deep_answer", "depth_score", depth)
		return Decision{}
	}

	return g.generate(ctx, log, trimmed, topic, s, false)
}

func (g *Generator) generate(ctx context.Context, log *slog.Logger, ans string, topic domain.Topic, s *domain.Session, mandatory bool) Decision {
	if text, ok := g.gw.GenerateFollowup(ctx, ans, topic, s.ConversationLog); ok {
		log.Info("ai_followup_generated", "question", text)
		return Decision{NeedFollowup: true, Text: text, IsAI: true}
	}
	if !mandatory {
		return Decision{}
	}

	text := g.pickPreset(topic)
	log.Info("preset_followup_used", "question", text)
	return Decision{NeedFollowup: true, Text: text}
}

func (g *Generator) pickPreset(topic domain.Topic) string {
	if len(topic.Followups) == 0 {
		return DefaultPreset
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return topic.Followups[g.rng.IntN(len(topic.Followups))]
}
