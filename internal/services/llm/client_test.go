package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dooriq/internal/config"
)

func testConfig(baseURL string) config.LLM {
	return config.LLM{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "test-model",
		TimeoutSeconds: 5,
	}
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"content":` + content + `},"finish_reason":"stop"}]}`
}

func TestCompleteJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(completionBody(`"{\"ok\":true}"`)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	content, err := client.CompleteJSON(context.Background(), Request{System: "sys", User: "user"})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("content = %q", content)
	}
}

func TestCompleteJSONRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(completionBody(`"{}"`)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), WithBackoff(time.Millisecond, 5*time.Millisecond))
	if _, err := client.CompleteJSON(context.Background(), Request{System: "sys", User: "user"}); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCompleteJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), WithBackoff(time.Millisecond, 5*time.Millisecond))
	if _, err := client.CompleteJSON(context.Background(), Request{System: "sys", User: "user"}); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestCompleteJSONExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL),
		WithMaxAttempts(2),
		WithBackoff(time.Millisecond, 5*time.Millisecond))
	if _, err := client.CompleteJSON(context.Background(), Request{System: "sys", User: "user"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestCompleteJSONRequiresPrompts(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:0"))
	if _, err := client.CompleteJSON(context.Background(), Request{User: "user"}); err == nil {
		t.Fatal("expected error for missing system prompt")
	}
	if _, err := client.CompleteJSON(context.Background(), Request{System: "sys"}); err == nil {
		t.Fatal("expected error for missing user prompt")
	}
}
