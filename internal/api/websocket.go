package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interview"
)

const wsWriteTimeout = 10 * time.Second

// Sockets tracks the live WebSocket for each session. A newer connection for
// the same session replaces the older one.
type Sockets struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewSockets creates an empty registry.
func NewSockets() *Sockets {
	return &Sockets{active: make(map[string]*websocket.Conn)}
}

// Active returns the live connection for a session.
func (s *Sockets) Active(sessionID string) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[sessionID]
}

// Register records conn as the session's live connection.
func (s *Sockets) Register(sessionID string, conn *websocket.Conn) {
	s.mu.Lock()
	existing := s.active[sessionID]
	s.active[sessionID] = conn
	s.mu.Unlock()

	if existing != nil && existing != conn {
		go closeConn(existing, "session replaced")
	}
	slog.Info("Interview socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's live connection.
func (s *Sockets) Unregister(sessionID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.active[sessionID]; ok && current == conn {
		delete(s.active, sessionID)
		slog.Info("Interview socket unregistered", "session_id", sessionID)
	}
}

// Close terminates the session's live connection, if any.
func (s *Sockets) Close(sessionID string) {
	s.mu.Lock()
	conn, ok := s.active[sessionID]
	delete(s.active, sessionID)
	s.mu.Unlock()

	if ok {
		go closeConn(conn, "session closed")
		slog.Info("Interview socket closed", "session_id", sessionID)
	}
}

// closeConn runs the close handshake, which waits for the peer.
func closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		slog.Debug("Failed to close websocket", "error", err)
	}
}

// wsFrame is a client command.
type wsFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsEvent is a server frame.
type wsEvent struct {
	Type     string            `json:"type"`
	Reply    *replyResponse    `json:"reply,omitempty"`
	Session  *sessionResponse  `json:"session,omitempty"`
	Messages []messageResponse `json:"messages,omitempty"`
	Code     string            `json:"code,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SocketHandler runs an interview over a WebSocket.
type SocketHandler struct {
	*Handler
	allowedOrigins []string
	isDev          bool
}

// NewSocketHandler creates a new WebSocket handler.
func NewSocketHandler(base *Handler, allowedOrigins []string, isDev bool) *SocketHandler {
	return &SocketHandler{Handler: base, allowedOrigins: allowedOrigins, isDev: isDev}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	log := h.logger.With("session_id", sessionID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	s, err := h.engine.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sockets.Register(sessionID, ws)
	defer h.sockets.Unregister(sessionID, ws)

	ctx := r.Context()
	if err := h.sendSession(ctx, ws, s); err != nil {
		log.Debug("Failed to send initial state", "error", err)
		return
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if err := h.writeJSON(ctx, ws, wsEvent{Type: "error", Code: domain.CodeInvalidInput, Error: "malformed frame"}); err != nil {
				return
			}
			continue
		}

		ev := h.dispatch(ctx, sessionID, frame)
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			log.Debug("WebSocket write error", "error", err)
			return
		}
		if ev.Code == domain.CodeNotFound {
			return
		}
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, id string, frame wsFrame) wsEvent {
	switch frame.Type {
	case "answer":
		if utf8.RuneCountInString(frame.Text) > maxAnswerRunes {
			return wsEvent{Type: "error", Code: domain.CodeInvalidInput, Error: fmt.Sprintf("answer exceeds %d characters", maxAnswerRunes)}
		}
		res, err := h.engine.ProcessAnswer(ctx, id, strings.TrimSpace(frame.Text))
		return h.replyEvent(res, err)
	case "skip":
		res, err := h.engine.SkipQuestion(ctx, id)
		return h.replyEvent(res, err)
	case "undo":
		msgs, err := h.engine.UndoLast(ctx, id)
		if err != nil {
			return errorEvent(err)
		}
		return wsEvent{Type: "messages", Messages: toMessageResponses(msgs)}
	case "restart":
		s, err := h.engine.Restart(ctx, id)
		if err != nil {
			return errorEvent(err)
		}
		return h.sessionEvent(s)
	case "ping":
		return wsEvent{Type: "pong"}
	default:
		return wsEvent{Type: "error", Code: domain.CodeInvalidInput, Error: fmt.Sprintf("unknown frame type %q", frame.Type)}
	}
}

func (h *SocketHandler) replyEvent(res interview.Result, err error) wsEvent {
	if err != nil {
		return errorEvent(err)
	}
	rep := toReply(res)
	return wsEvent{Type: "reply", Reply: &rep}
}

func (h *SocketHandler) sessionEvent(s *domain.Session) wsEvent {
	resp := toSessionResponse(s)
	return wsEvent{
		Type:     "session",
		Session:  &resp,
		Messages: toMessageResponses(domain.Messages(s.ConversationLog)),
	}
}

func (h *SocketHandler) sendSession(ctx context.Context, ws *websocket.Conn, s *domain.Session) error {
	return h.writeJSON(ctx, ws, h.sessionEvent(s))
}

func errorEvent(err error) wsEvent {
	code := domain.Code(err)
	message := err.Error()
	if code == domain.CodeInternal {
		message = "internal error"
	}
	return wsEvent{Type: "error", Code: code, Error: message}
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *SocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
