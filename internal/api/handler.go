// Package api provides HTTP and WebSocket handlers for the interview service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interview"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// codeRateLimited is returned with 429 responses.
const codeRateLimited = "rate_limited"

// Engine is the interview surface the handlers drive.
type Engine interface {
	StartSession(ctx context.Context, userName string, topicNames []string) (*domain.Session, error)
	ProcessAnswer(ctx context.Context, id, text string) (interview.Result, error)
	SkipQuestion(ctx context.Context, id string) (interview.Result, error)
	UndoLast(ctx context.Context, id string) ([]domain.Message, error)
	Restart(ctx context.Context, id string) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetMessages(ctx context.Context, id string) ([]domain.Message, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, id string) (interview.Stats, error)
	Summary(ctx context.Context, id string) (interview.Summary, error)
}

// Handler provides common handler utilities.
type Handler struct {
	engine  Engine
	sockets *Sockets
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(engine Engine, sockets *Sockets, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sockets == nil {
		sockets = NewSockets()
	}
	return &Handler{engine: engine, sockets: sockets, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorCode writes a JSON error response carrying a stable error code.
func ErrorCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"error": message, "code": code})
}

// StatusFor maps a stable error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyFinished, domain.CodeUndoUnavailable:
		return http.StatusConflict
	case domain.CodeInsufficientTopics:
		return http.StatusUnprocessableEntity
	case domain.CodePersistence, domain.CodeCapacity:
		return http.StatusServiceUnavailable
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an engine error to its status and code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Code(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "code", code, "path", r.URL.Path)
	}
	message := err.Error()
	if code == domain.CodeInternal {
		message = "internal error"
	}
	ErrorCode(w, status, code, message)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode body: %w", domain.ErrInvalidInput, err)
	}
	return nil
}
