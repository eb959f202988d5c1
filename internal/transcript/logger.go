// Package transcript writes per-session interview events as NDJSON files.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one line of a session transcript.
type Event struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	UserName  string         `json:"user_name,omitempty"`
	EventType string         `json:"event"`
	Role      string         `json:"role,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Recorder accepts transcript events without blocking the caller.
type Recorder interface {
	Record(Event)
	Close() error
}

// Config controls the file recorder.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(Event) {}

// Close implements Recorder.
func (Nop) Close() error { return nil }

// FileRecorder appends events to <dir>/<session_id>.ndjson from a single
// background goroutine. Events are dropped when the queue is full.
type FileRecorder struct {
	dir    string
	queue  chan Event
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New returns a FileRecorder, or Nop when disabled.
func New(cfg Config, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	r := &FileRecorder{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record implements Recorder.
func (r *FileRecorder) Record(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("transcript queue full, dropping event", "session_id", ev.SessionID, "event", ev.EventType)
	}
}

// Close drains queued events and stops the writer.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *FileRecorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		if err := r.write(ev); err != nil {
			r.logger.Warn("failed to write transcript event", "session_id", ev.SessionID, "error", err)
		}
	}
}

func (r *FileRecorder) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := filepath.Join(r.dir, safeName(ev.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func safeName(id string) string {
	name := unsafeChars.ReplaceAllString(strings.TrimSpace(id), "_")
	if name == "" {
		return "unknown"
	}
	return name
}
