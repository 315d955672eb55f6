package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dooriq/internal/config"
	"dooriq/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "grading completed with sale",
			event: notifications.EventGradingCompleted,
			payload: notifications.Payload{
				"sessionId":    "session-42",
				"overallScore": "81",
				"saleClosed":   "true",
			},
			expectTitle:   "DoorIQ - Session Graded",
			expectMessage: "✅ Session session-42 graded: 81/100 (sale closed)",
			expectTags:    "dooriq,grading,completed",
		},
		{
			name:  "grading completed without sale",
			event: notifications.EventGradingCompleted,
			payload: notifications.Payload{
				"sessionId":    "session-42",
				"overallScore": "55",
			},
			expectTitle:   "DoorIQ - Session Graded",
			expectMessage: "✅ Session session-42 graded: 55/100 (no sale)",
			expectTags:    "dooriq,grading,completed",
		},
		{
			name:  "grading failed",
			event: notifications.EventGradingFailed,
			payload: notifications.Payload{
				"sessionId": "session-42",
				"error":     "deep grade exhausted retry budget",
			},
			expectTitle:    "DoorIQ - Grading Failed",
			expectMessage:  "❌ Grading failed for session-42: deep grade exhausted retry budget",
			expectTags:     "dooriq,grading,error",
			expectPriority: "high",
		},
		{
			name:  "import completed",
			event: notifications.EventImportCompleted,
			payload: notifications.Payload{
				"count":  "17",
				"source": "sessions.xlsx",
			},
			expectTitle:   "DoorIQ - Import Complete",
			expectMessage: "Imported 17 sessions from sessions.xlsx",
			expectTags:    "dooriq,import,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Completion = true
			cfg.Notifications.Errors = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	disabled := []notifications.Event{
		notifications.EventGradingCompleted,
		notifications.EventGradingFailed,
		notifications.EventImportCompleted,
	}

	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"sessionId": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}
