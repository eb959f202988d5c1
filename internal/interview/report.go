package interview

import (
	"context"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// Stats summarizes one session's progress.
type Stats struct {
	SessionID             string       `json:"session_id"`
	UserName              string       `json:"user_name"`
	State                 domain.State `json:"state"`
	CurrentQuestion       int          `json:"current_question"`
	TotalQuestions        int          `json:"total_questions"`
	TotalMessages         int          `json:"total_messages"`
	UserMessages          int          `json:"user_messages"`
	AssistantMessages     int          `json:"assistant_messages"`
	DurationSeconds       float64      `json:"duration_seconds"`
	AvgResponseSeconds    float64      `json:"avg_response_seconds"`
	AIFollowupAnswers     int          `json:"ai_followup_answers"`
	PresetFollowupAnswers int          `json:"preset_followup_answers"`
}

// Summary is the exported record of one interview.
type Summary struct {
	SessionID       string                     `json:"session_id"`
	UserName        string                     `json:"user_name"`
	StartTime       time.Time                  `json:"start_time"`
	EndTime         *time.Time                 `json:"end_time,omitempty"`
	State           domain.State               `json:"state"`
	Statistics      SummaryStatistics          `json:"statistics"`
	ConversationLog []domain.ConversationEntry `json:"conversation_log"`
}

// SummaryStatistics counts answers by scene, education type and follow-up source.
type SummaryStatistics struct {
	TotalLogs             int            `json:"total_logs"`
	SceneDistribution     map[string]int `json:"scene_distribution"`
	EduDistribution       map[string]int `json:"edu_distribution"`
	FollowupDistribution  map[string]int `json:"followup_distribution"`
	AnsweredCoreQuestions int            `json:"answered_core_questions"`
	AnsweredFollowups     int            `json:"answered_followups"`
}

// Follow-up distribution keys.
const (
	FollowupSourceAI     = "AI"
	FollowupSourcePreset = "Preset"
)

// Stats reports message counts and timings for a session.
func (e *Engine) Stats(ctx context.Context, id string) (Stats, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		SessionID:       s.ID,
		UserName:        s.UserName,
		State:           s.State(),
		CurrentQuestion: min(s.CurrentQuestionIdx+1, s.TotalQuestions()),
		TotalQuestions:  s.TotalQuestions(),
		TotalMessages:   len(s.ConversationLog),
	}

	end := e.now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	st.DurationSeconds = end.Sub(s.StartTime).Seconds()

	var (
		gaps     time.Duration
		gapCount int
		asked    *time.Time
	)
	for i := range s.ConversationLog {
		entry := s.ConversationLog[i]
		switch entry.Role() {
		case domain.RoleAssistant:
			st.AssistantMessages++
			at := entry.Timestamp
			asked = &at
		case domain.RoleUser:
			st.UserMessages++
			if asked != nil {
				gaps += entry.Timestamp.Sub(*asked)
				gapCount++
				asked = nil
			}
		}
		if entry.Kind == domain.KindFollowupAnswer {
			if entry.IsAIGenerated {
				st.AIFollowupAnswers++
			} else {
				st.PresetFollowupAnswers++
			}
		}
	}
	if gapCount > 0 {
		st.AvgResponseSeconds = gaps.Seconds() / float64(gapCount)
	}
	return st, nil
}

// Summary builds the export document for a session.
func (e *Engine) Summary(ctx context.Context, id string) (Summary, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	topics := make(map[string]domain.Topic, len(s.SelectedTopics))
	for _, t := range s.SelectedTopics {
		topics[t.Name] = t
	}

	stats := SummaryStatistics{
		TotalLogs:            len(s.ConversationLog),
		SceneDistribution:    map[string]int{},
		EduDistribution:      map[string]int{},
		FollowupDistribution: map[string]int{FollowupSourceAI: 0, FollowupSourcePreset: 0},
	}
	for _, entry := range s.ConversationLog {
		switch entry.Kind {
		case domain.KindCoreAnswer:
			stats.AnsweredCoreQuestions++
		case domain.KindFollowupAnswer:
			stats.AnsweredFollowups++
			if entry.IsAIGenerated {
				stats.FollowupDistribution[FollowupSourceAI]++
			} else {
				stats.FollowupDistribution[FollowupSourcePreset]++
			}
		default:
			continue
		}
		if t, ok := topics[entry.Topic]; ok {
			stats.SceneDistribution[t.Scene]++
			stats.EduDistribution[t.EduType]++
		}
	}

	return Summary{
		SessionID:       s.ID,
		UserName:        s.UserName,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		State:           s.State(),
		Statistics:      stats,
		ConversationLog: s.ConversationLog,
	}, nil
}
