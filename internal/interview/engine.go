// Package interview implements the interview state machine over stored sessions.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/interviewd/internal/answer"
	"github.com/ashureev/interviewd/internal/catalog"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/followup"
	"github.com/ashureev/interviewd/internal/store"
	"github.com/ashureev/interviewd/internal/transcript"
)

const (
	// FinishedMessage closes every completed interview.
	FinishedMessage = "访谈已结束，感谢您的参与！"

	defaultUserPrefix     = "访谈者_"
	emptyCoreAnswer       = "用户未给出有效回答"
	emptyFollowupAnswer   = "用户未补充回答"
	unknownFollowupPrompt = "（追问）"
)

// Decider decides whether an answer needs a follow-up.
type Decider interface {
	Decide(ctx context.Context, answer string, topic domain.Topic, s *domain.Session) followup.Decision
}

// Config holds engine settings.
type Config struct {
	// TotalQuestions is the number of core questions drawn for a new session.
	TotalQuestions int
}

// Options are optional engine collaborators.
type Options struct {
	Rand     *rand.Rand
	Clock    func() time.Time
	Logger   *slog.Logger
	Recorder transcript.Recorder
}

// Result is the assistant's reply to an answer or skip.
type Result struct {
	AssistantMessage string `json:"assistant_message"`
	NeedFollowup     bool   `json:"need_followup"`
	IsAIGenerated    bool   `json:"is_ai_generated"`
	IsFinished       bool   `json:"is_finished"`

	// MessageIndex and Timestamp locate the reply in the committed
	// conversation, as returned by GetMessages.
	MessageIndex int       `json:"message_index"`
	Timestamp    time.Time `json:"timestamp"`
}

// placed fills in the reply's position from the committed session.
func (r Result) placed(s *domain.Session) Result {
	msgs := domain.Messages(s.ConversationLog)
	if n := len(msgs); n > 0 {
		r.MessageIndex = n - 1
		r.Timestamp = msgs[n-1].Timestamp
	}
	return r
}

// Engine runs interviews. Operations on one session id are serialized;
// operations on different ids never wait for each other.
type Engine struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	proc     *answer.Processor
	decider  Decider
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	recorder transcript.Recorder
	slots    *slots

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Engine.
func New(repo store.Repository, cat *catalog.Catalog, proc *answer.Processor, decider Decider, cfg Config, opts Options) *Engine {
	if cfg.TotalQuestions <= 0 {
		cfg.TotalQuestions = 6
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = transcript.Nop{}
	}
	return &Engine{
		repo:     repo,
		catalog:  cat,
		proc:     proc,
		decider:  decider,
		cfg:      cfg,
		now:      opts.Clock,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		slots:    newSlots(),
		rng:      opts.Rand,
	}
}

// StartSession creates a session over the named topics, or over a stratified
// selection from the catalog when none are named, and asks the first question.
func (e *Engine) StartSession(ctx context.Context, userName string, topicNames []string) (*domain.Session, error) {
	var (
		topics []domain.Topic
		err    error
	)
	if len(topicNames) > 0 {
		topics, err = e.catalog.ByNames(topicNames)
	} else {
		e.rngMu.Lock()
		topics, err = e.catalog.Select(e.cfg.TotalQuestions, e.rng)
		e.rngMu.Unlock()
	}
	if err != nil {
		return nil, fmt.Errorf("select topics: %w", err)
	}

	id := uuid.NewString()
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = defaultUserPrefix + id[:8]
	}

	now := e.now()
	s := &domain.Session{
		ID:             id,
		UserName:       userName,
		SelectedTopics: topics,
		StartTime:      now,
		UpdatedAt:      now,
	}
	s.Reset()

	var ev events
	ev.add(s, now, "session_started", "", "", "", map[string]any{"topics": topicNamesOf(topics)})
	e.askCurrent(s, &ev, now)

	if err := e.repo.Save(ctx, s); err != nil {
		return nil, persistenceError(err)
	}

	e.logger.Info("session started", "session_id", id, "user_name", userName, "total_questions", s.TotalQuestions())
	e.flush(ev)
	return s, nil
}

// ProcessAnswer records the subject's answer to the pending question and
// returns the next assistant message.
func (e *Engine) ProcessAnswer(ctx context.Context, id, text string) (Result, error) {
	var res Result
	s, err := e.mutate(ctx, id, func(ctx context.Context, s *domain.Session, ev *events) error {
		if s.IsFinished {
			return domain.ErrAlreadyFinished
		}
		topic, ok := s.CurrentTopic()
		if !ok {
			return fmt.Errorf("session %s has no question at index %d", s.ID, s.CurrentQuestionIdx)
		}

		s.PushUndo()
		now := e.now()
		depth := e.proc.ScoreDepth(text)
		keywords := e.proc.ExtractKeywords(text)

		if s.IsFollowup {
			question := s.CurrentFollowupQuestion
			if question == "" {
				question = unknownFollowupPrompt
			}
			stored := orDefault(text, emptyFollowupAnswer)
			s.Append(domain.NewFollowupAnswer(topic.Name, question, stored, depth, keywords, s.CurrentFollowupIsAI, now))
			ev.add(s, now, "followup_answer", domain.RoleUser, topic.Name, stored, map[string]any{"depth_score": depth, "is_ai_generated": s.CurrentFollowupIsAI})
			s.ClearFollowup()
			res = e.advance(s, ev, now)
			return nil
		}

		stored := orDefault(text, emptyCoreAnswer)
		s.Append(domain.NewCoreAnswer(topic.Name, topic.CoreQuestion, stored, depth, keywords, now))
		ev.add(s, now, "core_answer", domain.RoleUser, topic.Name, stored, map[string]any{"depth_score": depth, "keywords": keywords})

		d := e.decider.Decide(ctx, text, topic, s)
		if d.NeedFollowup {
			s.IsFollowup = true
			s.CurrentFollowupCount++
			s.CurrentFollowupQuestion = d.Text
			s.CurrentFollowupIsAI = d.IsAI
			asked := e.now()
			s.Append(domain.NewAssistantQuestion(d.Text, asked))
			ev.add(s, asked, "followup_question", domain.RoleAssistant, topic.Name, d.Text, map[string]any{"is_ai_generated": d.IsAI})
			res = Result{AssistantMessage: d.Text, NeedFollowup: true, IsAIGenerated: d.IsAI}
			return nil
		}

		res = e.advance(s, ev, now)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res.placed(s), nil
}

// SkipQuestion abandons the current question, including any pending
// follow-up, and moves to the next one.
func (e *Engine) SkipQuestion(ctx context.Context, id string) (Result, error) {
	var res Result
	s, err := e.mutate(ctx, id, func(_ context.Context, s *domain.Session, ev *events) error {
		if s.IsFinished {
			return domain.ErrAlreadyFinished
		}
		s.PushUndo()
		now := e.now()
		topic, _ := s.CurrentTopic()
		ev.add(s, now, "question_skipped", "", topic.Name, "", map[string]any{"pending_followup": s.IsFollowup})
		s.ClearFollowup()
		res = e.advance(s, ev, now)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res.placed(s), nil
}

// UndoLast reverts the most recent answer or skip and returns the remaining messages.
func (e *Engine) UndoLast(ctx context.Context, id string) ([]domain.Message, error) {
	s, err := e.mutate(ctx, id, func(_ context.Context, s *domain.Session, ev *events) error {
		if err := s.PopUndo(); err != nil {
			return err
		}
		ev.add(s, e.now(), "undo", "", "", "", map[string]any{"log_length": len(s.ConversationLog)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domain.Messages(s.ConversationLog), nil
}

// Restart clears the conversation and asks the first question again.
// The selected topics are kept.
func (e *Engine) Restart(ctx context.Context, id string) (*domain.Session, error) {
	return e.mutate(ctx, id, func(_ context.Context, s *domain.Session, ev *events) error {
		if s.TotalQuestions() == 0 {
			return fmt.Errorf("session %s has no topics", s.ID)
		}
		s.Reset()
		now := e.now()
		ev.add(s, now, "session_restarted", "", "", "", nil)
		e.askCurrent(s, ev, now)
		return nil
	})
}

// GetSession returns a stored session.
func (e *Engine) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return e.load(ctx, id)
}

// GetMessages returns the session's conversation as role/content messages.
func (e *Engine) GetMessages(ctx context.Context, id string) ([]domain.Message, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.Messages(s.ConversationLog), nil
}

// DeleteSession removes a session. It does not wait for an in-flight
// operation on the same id: that operation is cancelled and its result
// discarded.
func (e *Engine) DeleteSession(ctx context.Context, id string) (bool, error) {
	sl := e.slots.acquire(id)
	defer e.slots.release(id, sl)

	sl.mu.Lock()
	sl.markDeletedLocked()
	deleted, err := e.repo.Delete(ctx, id)
	sl.mu.Unlock()

	if err != nil {
		return false, persistenceError(err)
	}
	if deleted {
		e.logger.Info("session deleted", "session_id", id)
		e.recorder.Record(transcript.Event{
			Timestamp: e.now().UTC().Format(time.RFC3339Nano),
			SessionID: id,
			EventType: "session_deleted",
		})
	}
	return deleted, nil
}

// Forget discards in-flight work for a session the store has already
// removed, such as one evicted for idleness.
func (e *Engine) Forget(id string) {
	sl, ok := e.slots.peek(id)
	if !ok {
		return
	}
	sl.mu.Lock()
	sl.markDeletedLocked()
	sl.mu.Unlock()
}

// mutate runs fn against the stored session under the id's operation lock
// and saves the result. fn's context is cancelled if the session is deleted
// meanwhile, in which case nothing is saved and ErrNotFound is returned. A
// session the store evicted on its own is caught by Update at commit.
func (e *Engine) mutate(ctx context.Context, id string, fn func(context.Context, *domain.Session, *events) error) (*domain.Session, error) {
	sl := e.slots.acquire(id)
	defer e.slots.release(id, sl)

	sl.op.Lock()
	defer sl.op.Unlock()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sl.mu.Lock()
	if sl.deleted {
		sl.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	sl.cancel = cancel
	sl.mu.Unlock()
	defer func() {
		sl.mu.Lock()
		sl.cancel = nil
		sl.mu.Unlock()
	}()

	s, err := e.load(opCtx, id)
	if err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var ev events
	if err := fn(opCtx, s, &ev); err != nil {
		return nil, err
	}
	s.UpdatedAt = e.now()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.deleted {
		e.logger.Info("discarding result for deleted session", "session_id", id)
		return nil, domain.ErrNotFound
	}
	if err := e.repo.Update(ctx, s); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Info("discarding result for evicted session", "session_id", id)
			return nil, domain.ErrNotFound
		}
		return nil, persistenceError(err)
	}
	e.flush(ev)
	return s, nil
}

func (e *Engine) load(ctx context.Context, id string) (*domain.Session, error) {
	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %w", domain.ErrPersistence, id, err)
	}
	if s == nil {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// advance moves to the next core question, or finishes the interview.
func (e *Engine) advance(s *domain.Session, ev *events, now time.Time) Result {
	s.CurrentQuestionIdx++
	if s.CurrentQuestionIdx >= s.TotalQuestions() {
		s.CurrentQuestionIdx = s.TotalQuestions()
		s.IsFinished = true
		end := now
		s.EndTime = &end
		s.Append(domain.NewAssistantQuestion(FinishedMessage, now))
		e.logger.Info("session finished", "session_id", s.ID, "duration", end.Sub(s.StartTime))
		ev.add(s, now, "session_finished", domain.RoleAssistant, "", FinishedMessage, nil)
		return Result{AssistantMessage: FinishedMessage, IsFinished: true}
	}

	return Result{AssistantMessage: e.askCurrent(s, ev, now)}
}

// askCurrent appends the current core question to the log and returns it.
func (e *Engine) askCurrent(s *domain.Session, ev *events, now time.Time) string {
	topic, _ := s.CurrentTopic()
	question := QuestionText(s.CurrentQuestionIdx, s.TotalQuestions(), topic)
	s.Append(domain.NewAssistantQuestion(question, now))
	ev.add(s, now, "assistant_question", domain.RoleAssistant, topic.Name, question, nil)
	return question
}

// events buffers transcript events until the operation commits.
type events []transcript.Event

func (ev *events) add(s *domain.Session, at time.Time, event string, role domain.Role, topic, content string, meta map[string]any) {
	*ev = append(*ev, transcript.Event{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		SessionID: s.ID,
		UserName:  s.UserName,
		EventType: event,
		Role:      string(role),
		Topic:     topic,
		Content:   content,
		Meta:      meta,
	})
}

func (e *Engine) flush(ev events) {
	for _, event := range ev {
		e.recorder.Record(event)
	}
}

// QuestionText renders a core question with its position.
func QuestionText(idx, total int, topic domain.Topic) string {
	return fmt.Sprintf("第%d/%d题：%s", idx+1, total, topic.CoreQuestion)
}

func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func orDefault(text, fallback string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return fallback
}

func topicNamesOf(topics []domain.Topic) []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	return names
}
