package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dooriq/internal/config"
)

const userAgent = "DoorIQ-Go/0.1.0"

// Event identifies a notable pipeline occurrence worth pushing to ntfy.
type Event string

const (
	// EventGradingCompleted fires when a session reaches completed.
	EventGradingCompleted Event = "grading_completed"
	// EventGradingFailed fires when any stage permanently fails a session.
	EventGradingFailed Event = "grading_failed"
	// EventImportCompleted fires when a spreadsheet import finishes.
	EventImportCompleted Event = "import_completed"
	// EventTest verifies the notification channel end to end.
	EventTest Event = "test"
)

// Payload carries the event-specific values interpolated into the message.
type Payload map[string]string

// Service is the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		completions: cfg.Notifications.Completion,
		errors:      cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	completions bool
	errors      bool
}

// Publish renders and sends one event. Events disabled by configuration are
// silently dropped.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n.suppressed(event) {
		return nil
	}
	rendered, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, rendered)
}

func (n *ntfyService) suppressed(event Event) bool {
	switch event {
	case EventGradingCompleted, EventImportCompleted:
		return !n.completions
	case EventGradingFailed:
		return !n.errors
	default:
		return false
	}
}

func render(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventGradingCompleted:
		outcome := "no sale"
		if get("saleClosed") == "true" {
			outcome = "sale closed"
		}
		return message{
			title: "DoorIQ - Session Graded",
			body:  fmt.Sprintf("✅ Session %s graded: %s/100 (%s)", get("sessionId"), get("overallScore"), outcome),
			tags:  []string{"dooriq", "grading", "completed"},
		}, true
	case EventGradingFailed:
		body := fmt.Sprintf("❌ Grading failed for %s", get("sessionId"))
		if reason := get("error"); reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title:    "DoorIQ - Grading Failed",
			body:     body,
			tags:     []string{"dooriq", "grading", "error"},
			priority: "high",
		}, true
	case EventImportCompleted:
		return message{
			title: "DoorIQ - Import Complete",
			body:  fmt.Sprintf("Imported %s sessions from %s", get("count"), get("source")),
			tags:  []string{"dooriq", "import", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "DoorIQ - Test",
			body:     "Notification system test",
			tags:     []string{"dooriq", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
