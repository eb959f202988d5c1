package domain

import (
	"time"
)

// UndoStackMax is the number of undo snapshots a session retains.
const UndoStackMax = 10

// State is the interview state derived from a session's progress fields.
type State string

const (
	// StateAwaitingCoreAnswer means the last assistant message was a core question.
	StateAwaitingCoreAnswer State = "awaiting_core_answer"
	// StateAwaitingFollowupAnswer means a follow-up question is pending.
	StateAwaitingFollowupAnswer State = "awaiting_followup_answer"
	// StateFinished is terminal until the session is restarted.
	StateFinished State = "finished"
)

// ScalarState is every non-log field an undo snapshot has to restore.
type ScalarState struct {
	CurrentQuestionIdx      int        `json:"current_question_idx"`
	IsFollowup              bool       `json:"is_followup"`
	CurrentFollowupCount    int        `json:"current_followup_count"`
	CurrentFollowupQuestion string     `json:"current_followup_question"`
	CurrentFollowupIsAI     bool       `json:"current_followup_is_ai"`
	IsFinished              bool       `json:"is_finished"`
	EndTime                 *time.Time `json:"end_time,omitempty"`
}

// UndoSnapshot records the session as it was before a mutating operation.
type UndoSnapshot struct {
	LogLengthBefore int         `json:"log_length_before"`
	State           ScalarState `json:"state"`
}

// Session holds the interview state for one subject.
type Session struct {
	ID                      string              `json:"id"`
	UserName                string              `json:"user_name"`
	SelectedTopics          []Topic             `json:"selected_topics"`
	CurrentQuestionIdx      int                 `json:"current_question_idx"`
	IsFollowup              bool                `json:"is_followup"`
	CurrentFollowupCount    int                 `json:"current_followup_count"`
	CurrentFollowupQuestion string              `json:"current_followup_question"`
	CurrentFollowupIsAI     bool                `json:"current_followup_is_ai"`
	IsFinished              bool                `json:"is_finished"`
	StartTime               time.Time           `json:"start_time"`
	EndTime                 *time.Time          `json:"end_time,omitempty"`
	UpdatedAt               time.Time           `json:"updated_at"`
	ConversationLog         []ConversationEntry `json:"conversation_log"`
	UndoStack               []UndoSnapshot      `json:"undo_stack"`
}

// TotalQuestions is the number of core questions in this interview.
func (s *Session) TotalQuestions() int {
	return len(s.SelectedTopics)
}

// State derives the state machine position from the progress fields.
func (s *Session) State() State {
	switch {
	case s.IsFinished:
		return StateFinished
	case s.IsFollowup:
		return StateAwaitingFollowupAnswer
	default:
		return StateAwaitingCoreAnswer
	}
}

// CurrentTopic returns the topic being asked, or false once every question is consumed.
func (s *Session) CurrentTopic() (Topic, bool) {
	if s.CurrentQuestionIdx < 0 || s.CurrentQuestionIdx >= len(s.SelectedTopics) {
		return Topic{}, false
	}
	return s.SelectedTopics[s.CurrentQuestionIdx], true
}

// Append adds an entry to the conversation log.
func (s *Session) Append(entry ConversationEntry) {
	s.ConversationLog = append(s.ConversationLog, entry)
}

// Scalars captures the current scalar state.
func (s *Session) Scalars() ScalarState {
	st := ScalarState{
		CurrentQuestionIdx:      s.CurrentQuestionIdx,
		IsFollowup:              s.IsFollowup,
		CurrentFollowupCount:    s.CurrentFollowupCount,
		CurrentFollowupQuestion: s.CurrentFollowupQuestion,
		CurrentFollowupIsAI:     s.CurrentFollowupIsAI,
		IsFinished:              s.IsFinished,
	}
	if s.EndTime != nil {
		t := *s.EndTime
		st.EndTime = &t
	}
	return st
}

// PushUndo records a snapshot of the current state. When the stack is full the
// oldest snapshot is dropped.
func (s *Session) PushUndo() {
	s.UndoStack = append(s.UndoStack, UndoSnapshot{
		LogLengthBefore: len(s.ConversationLog),
		State:           s.Scalars(),
	})
	if over := len(s.UndoStack) - UndoStackMax; over > 0 {
		s.UndoStack = append([]UndoSnapshot(nil), s.UndoStack[over:]...)
	}
}

// PopUndo reverts the most recent mutating operation.
// Returns ErrUndoUnavailable if there is nothing to revert.
func (s *Session) PopUndo() error {
	if len(s.UndoStack) == 0 {
		return ErrUndoUnavailable
	}
	snap := s.UndoStack[len(s.UndoStack)-1]
	s.UndoStack = s.UndoStack[:len(s.UndoStack)-1]

	if snap.LogLengthBefore >= 0 && snap.LogLengthBefore < len(s.ConversationLog) {
		s.ConversationLog = s.ConversationLog[:snap.LogLengthBefore]
	}
	s.restore(snap.State)
	return nil
}

func (s *Session) restore(st ScalarState) {
	s.CurrentQuestionIdx = st.CurrentQuestionIdx
	s.IsFollowup = st.IsFollowup
	s.CurrentFollowupCount = st.CurrentFollowupCount
	s.CurrentFollowupQuestion = st.CurrentFollowupQuestion
	s.CurrentFollowupIsAI = st.CurrentFollowupIsAI
	s.IsFinished = st.IsFinished
	s.EndTime = nil
	if st.EndTime != nil {
		t := *st.EndTime
		s.EndTime = &t
	}
}

// ClearFollowup resets the follow-up sub-state.
func (s *Session) ClearFollowup() {
	s.IsFollowup = false
	s.CurrentFollowupCount = 0
	s.CurrentFollowupQuestion = ""
	s.CurrentFollowupIsAI = false
}

// Reset returns the session to its first question with an empty history.
func (s *Session) Reset() {
	s.CurrentQuestionIdx = 0
	s.ClearFollowup()
	s.IsFinished = false
	s.EndTime = nil
	s.ConversationLog = nil
	s.UndoStack = nil
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// backing arrays with the persisted copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.SelectedTopics = make([]Topic, len(s.SelectedTopics))
	for i, t := range s.SelectedTopics {
		c.SelectedTopics[i] = t.Clone()
	}
	c.ConversationLog = make([]ConversationEntry, len(s.ConversationLog))
	for i, e := range s.ConversationLog {
		c.ConversationLog[i] = e.Clone()
	}
	c.UndoStack = make([]UndoSnapshot, len(s.UndoStack))
	for i, u := range s.UndoStack {
		u.State = u.State.clone()
		c.UndoStack[i] = u
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

func (st ScalarState) clone() ScalarState {
	if st.EndTime != nil {
		t := *st.EndTime
		st.EndTime = &t
	}
	return st
}
