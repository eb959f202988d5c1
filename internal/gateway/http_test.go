package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPCompleterComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"当时你怎么想的？"}}]}`)
	}))
	defer server.Close()

	c := NewHTTPCompleter(server.URL+"/", "secret", "test-model", time.Second)
	got, err := c.Complete(context.Background(), Request{System: "s", Prompt: "p", MaxTokens: 50, Temperature: 0.7})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "当时你怎么想的？" {
		t.Fatalf("unexpected completion %q", got)
	}
}

func TestHTTPCompleterError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer server.Close()

	c := NewHTTPCompleter(server.URL, "", "m", time.Second)
	if _, err := c.Complete(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPCompleterPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	defer server.Close()

	c := NewHTTPCompleter(server.URL, "", "m", time.Second)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := New(c, testConfig(), nil).Ping(context.Background()); err != nil {
		t.Fatalf("Client.Ping failed: %v", err)
	}
}

func TestClientOverHTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"队友有什么反应？"}}]}`)
	}))
	defer server.Close()

	c := New(NewHTTPCompleter(server.URL, "", "m", time.Second), testConfig(), nil)
	got, ok := c.GenerateFollowup(context.Background(), "我在小组作业里负责统筹", testTopic, nil)
	if !ok || got != "队友有什么反应？" {
		t.Fatalf("expected follow-up after retry, got %q ok=%v", got, ok)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}
