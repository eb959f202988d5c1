package api

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interview"
)

// maxAnswerRunes bounds a single answer.
const maxAnswerRunes = 4000

// SessionHandler handles interview session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/message", h.Message)
			r.Get("/messages", h.Messages)
			r.Post("/undo", h.Undo)
			r.Post("/skip", h.Skip)
			r.Post("/restart", h.Restart)
			r.Get("/stats", h.Stats)
			r.Get("/export", h.Export)
		})
	})
}

type startRequest struct {
	UserName string   `json:"user_name"`
	Topics   []string `json:"topics"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type sessionResponse struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	State           domain.State `json:"state"`
	CurrentQuestion int          `json:"current_question"`
	TotalQuestions  int          `json:"total_questions"`
	CreatedAt       int64        `json:"created_at"`
	UserName        string       `json:"user_name"`
}

type messageResponse struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
}

type replyResponse struct {
	messageResponse
	NeedFollowup  bool `json:"need_followup"`
	IsAIGenerated bool `json:"is_ai_generated"`
	IsFinished    bool `json:"is_finished"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	status := "active"
	if s.IsFinished {
		status = "completed"
	}
	return sessionResponse{
		ID:              s.ID,
		Status:          status,
		State:           s.State(),
		CurrentQuestion: s.CurrentQuestionIdx,
		TotalQuestions:  s.TotalQuestions(),
		CreatedAt:       s.StartTime.UnixMilli(),
		UserName:        s.UserName,
	}
}

func toMessageResponses(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = messageResponse{
			ID:        fmt.Sprintf("msg_%d", i),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.UnixMilli(),
		}
	}
	return out
}

// toReply renders an engine result at its position in the message list.
func toReply(res interview.Result) replyResponse {
	return replyResponse{
		messageResponse: messageResponse{
			ID:        fmt.Sprintf("msg_%d", res.MessageIndex),
			Role:      domain.RoleAssistant,
			Content:   res.AssistantMessage,
			Timestamp: res.Timestamp.UnixMilli(),
		},
		NeedFollowup:  res.NeedFollowup,
		IsAIGenerated: res.IsAIGenerated,
		IsFinished:    res.IsFinished,
	}
}

// Start creates a session and asks its first question.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.engine.StartSession(r.Context(), req.UserName, req.Topics)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s))
}

// Get returns session details.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s))
}

// Message processes the subject's answer and returns the assistant's reply.
func (h *SessionHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if utf8.RuneCountInString(req.Text) > maxAnswerRunes {
		ErrorCode(w, http.StatusBadRequest, domain.CodeInvalidInput, fmt.Sprintf("answer exceeds %d characters", maxAnswerRunes))
		return
	}

	id := chi.URLParam(r, "id")
	res, err := h.engine.ProcessAnswer(r.Context(), id, strings.TrimSpace(req.Text))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toReply(res))
}

// Skip abandons the current question.
func (h *SessionHandler) Skip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.engine.SkipQuestion(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toReply(res))
}

// Messages returns the conversation.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.GetMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toMessageResponses(msgs))
}

// Undo reverts the last answer or skip.
func (h *SessionHandler) Undo(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.UndoLast(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toMessageResponses(msgs))
}

// Restart returns the session to its first question.
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s))
}

// Stats returns session statistics.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// Export returns the session summary as a JSON attachment.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := h.engine.Summary(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="interview_%s.json"`, id))
	JSON(w, http.StatusOK, sum)
}

// Delete removes a session and closes its live socket.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.engine.DeleteSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		h.writeError(w, r, domain.ErrNotFound)
		return
	}
	h.sockets.Close(id)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
