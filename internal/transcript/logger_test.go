package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileRecorderWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec.Record(Event{SessionID: "sess-1", EventType: "core_answer", Role: "user", Content: "我参加了志愿服务"})
	rec.Record(Event{SessionID: "sess-1", EventType: "assistant_question", Role: "assistant", Content: "第2/6题：..."})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess-1.ndjson"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "我参加了志愿服务" || got.Timestamp == "" {
		t.Fatalf("unexpected event: %+v", got)
	}

	// Recording after Close must not panic.
	rec.Record(Event{SessionID: "sess-1", EventType: "late"})
}

func TestSafeNameStripsPathSeparators(t *testing.T) {
	t.Parallel()

	if got := safeName("../../etc/passwd"); strings.ContainsAny(got, "./") {
		t.Fatalf("unsafe name %q", got)
	}
	if got := safeName(""); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestDisabledIsNop(t *testing.T) {
	t.Parallel()

	rec, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := rec.(Nop); !ok {
		t.Fatalf("expected Nop recorder, got %T", rec)
	}
}
