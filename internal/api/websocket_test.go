package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialSession(t *testing.T, ctx context.Context, srvURL, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws/session/" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wsEvent {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame wsFrame) {
	t.Helper()
	data, _ := json.Marshal(frame)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketInterview(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := newTestServer(t, 2, nil)

	var sess sessionResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/session/start", `{"user_name":"ws"}`, &sess)

	conn := dialSession(t, ctx, srv.URL, sess.ID)

	ev := readEvent(t, ctx, conn)
	if ev.Type != "session" || ev.Session == nil || ev.Session.ID != sess.ID || len(ev.Messages) != 1 {
		t.Fatalf("unexpected initial event: %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "ping"})
	if ev := readEvent(t, ctx, conn); ev.Type != "pong" {
		t.Fatalf("expected pong, got %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "answer", Text: deepAnswer})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "reply" || ev.Reply == nil || !strings.HasPrefix(ev.Reply.Content, "第2/2题：") {
		t.Fatalf("unexpected reply: %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "undo"})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "messages" || len(ev.Messages) != 1 {
		t.Fatalf("unexpected undo event: %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "dance"})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "error" || ev.Code != "invalid_input" {
		t.Fatalf("expected invalid_input error, got %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "skip"})
	sendFrame(t, ctx, conn, wsFrame{Type: "skip"})
	readEvent(t, ctx, conn)
	ev = readEvent(t, ctx, conn)
	if ev.Type != "reply" || !ev.Reply.IsFinished {
		t.Fatalf("expected finished reply, got %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "skip"})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "error" || ev.Code != "already_finished" {
		t.Fatalf("expected already_finished, got %+v", ev)
	}

	sendFrame(t, ctx, conn, wsFrame{Type: "restart"})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "session" || ev.Session.Status != "active" || len(ev.Messages) != 1 {
		t.Fatalf("unexpected restart event: %+v", ev)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := newTestServer(t, 2, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/nope"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestDeleteClosesLiveSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := newTestServer(t, 2, nil)

	var sess sessionResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/session/start", "{}", &sess)

	conn := dialSession(t, ctx, srv.URL, sess.ID)
	readEvent(t, ctx, conn)

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/session/"+sess.ID, "", nil); code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}

	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestSocketsReplaceAndUnregister(t *testing.T) {
	s := NewSockets()
	if s.Active("a") != nil {
		t.Fatal("expected no connection")
	}
	s.Close("a")

	conn := &websocket.Conn{}
	s.mu.Lock()
	s.active["a"] = conn
	s.mu.Unlock()

	s.Unregister("a", &websocket.Conn{})
	if s.Active("a") != conn {
		t.Fatal("stale unregister removed the live connection")
	}
	s.Unregister("a", conn)
	if s.Active("a") != nil {
		t.Fatal("expected connection removed")
	}
}
