package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind discriminates the ConversationEntry variants.
type EntryKind string

const (
	// KindAssistantQuestion is a question (core or follow-up) or a closing message.
	KindAssistantQuestion EntryKind = "assistant_question"
	// KindCoreAnswer is the subject's answer to a core question.
	KindCoreAnswer EntryKind = "core_answer"
	// KindFollowupAnswer is the subject's answer to a follow-up question.
	KindFollowupAnswer EntryKind = "followup_answer"
)

// Role is the speaker of a message as exposed to transports.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one record in a session's conversation log.
// Only the fields belonging to Kind are meaningful; use the constructors.
type ConversationEntry struct {
	Kind      EntryKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// assistant_question
	Text string `json:"text,omitempty"`

	// core_answer, followup_answer
	Topic      string   `json:"topic,omitempty"`
	Question   string   `json:"question,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	DepthScore int      `json:"depth_score,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`

	// followup_answer
	IsAIGenerated bool `json:"is_ai_generated,omitempty"`
}

// NewAssistantQuestion builds an assistant_question entry.
func NewAssistantQuestion(text string, at time.Time) ConversationEntry {
	return ConversationEntry{Kind: KindAssistantQuestion, Timestamp: at, Text: text}
}

// NewCoreAnswer builds a core_answer entry.
func NewCoreAnswer(topic, question, answer string, depth int, keywords []string, at time.Time) ConversationEntry {
	return ConversationEntry{
		Kind:       KindCoreAnswer,
		Timestamp:  at,
		Topic:      topic,
		Question:   question,
		Answer:     answer,
		DepthScore: depth,
		Keywords:   keywords,
	}
}

// NewFollowupAnswer builds a followup_answer entry.
func NewFollowupAnswer(topic, question, answer string, depth int, keywords []string, isAI bool, at time.Time) ConversationEntry {
	return ConversationEntry{
		Kind:          KindFollowupAnswer,
		Timestamp:     at,
		Topic:         topic,
		Question:      question,
		Answer:        answer,
		DepthScore:    depth,
		Keywords:      keywords,
		IsAIGenerated: isAI,
	}
}

// Role returns who spoke this entry.
func (e ConversationEntry) Role() Role {
	switch e.Kind {
	case KindCoreAnswer, KindFollowupAnswer:
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Content returns the text shown to a reader of the transcript.
func (e ConversationEntry) Content() string {
	switch e.Kind {
	case KindAssistantQuestion:
		return e.Text
	case KindCoreAnswer, KindFollowupAnswer:
		return e.Answer
	default:
		return ""
	}
}

// Clone returns a copy that does not share the keyword slice.
func (e ConversationEntry) Clone() ConversationEntry {
	if e.Keywords != nil {
		e.Keywords = append([]string(nil), e.Keywords...)
	}
	return e
}

// UnmarshalJSON rejects unknown variants so a corrupted log never loads.
func (e *ConversationEntry) UnmarshalJSON(data []byte) error {
	type plain ConversationEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Kind {
	case KindAssistantQuestion, KindCoreAnswer, KindFollowupAnswer:
	default:
		return fmt.Errorf("%w: unknown conversation entry kind %q", ErrInvalidInput, p.Kind)
	}
	*e = ConversationEntry(p)
	return nil
}

// Message is the transport projection of a conversation entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages projects a conversation log to its message list.
func Messages(log []ConversationEntry) []Message {
	out := make([]Message, 0, len(log))
	for _, e := range log {
		content := e.Content()
		if content == "" {
			continue
		}
		out = append(out, Message{Role: e.Role(), Content: content, Timestamp: e.Timestamp})
	}
	return out
}
