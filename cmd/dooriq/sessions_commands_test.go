package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"dooriq/internal/config"
	"dooriq/internal/queue"
)

// seedSessions writes one completed and one failed session straight into the
// store the CLI will open.
func seedSessions(t *testing.T, configPath string) {
	t.Helper()
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	transcriptJSON, _ := json.Marshal([]map[string]string{{"speaker": "rep", "text": "hello"}})

	done, err := store.NewSession(ctx, "done-session", string(transcriptJSON), 90)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done.Status = queue.StatusCompleted
	done.OverallScore = 82
	done.SaleClosed = true
	if err := store.UpdateSession(ctx, done); err != nil {
		t.Fatalf("update session: %v", err)
	}

	if _, err := store.NewSession(ctx, "broken-session", string(transcriptJSON), 45); err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.MarkFailed(ctx, "broken-session", "llm unavailable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestSessionsListAndFilter(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	seedSessions(t, configPath)

	out, _, err := runCLI(t, configPath, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	requireContains(t, out, "done-session")
	requireContains(t, out, "broken-session")

	out, _, err = runCLI(t, configPath, "sessions", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("sessions list --status failed: %v", err)
	}
	requireContains(t, out, "broken-session")
	if strings.Contains(out, "done-session") {
		t.Fatalf("completed session leaked into failed filter: %q", out)
	}

	_, _, err = runCLI(t, configPath, "sessions", "list", "--status", "bogus")
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestSessionsShowReportsFailure(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	seedSessions(t, configPath)

	out, _, err := runCLI(t, configPath, "sessions", "show", "broken-session")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	requireContains(t, out, "failed")
	requireContains(t, out, "llm unavailable")

	_, _, err = runCLI(t, configPath, "sessions", "show", "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestSessionsHealthRetryAndClear(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	seedSessions(t, configPath)

	out, _, err := runCLI(t, configPath, "sessions", "health")
	if err != nil {
		t.Fatalf("sessions health: %v", err)
	}
	requireContains(t, out, "Total: 2")
	requireContains(t, out, "Completed: 1")
	requireContains(t, out, "Failed: 1")

	out, _, err = runCLI(t, configPath, "sessions", "retry", "broken-session")
	if err != nil {
		t.Fatalf("sessions retry: %v", err)
	}
	requireContains(t, out, "Regraded 1 of 1 sessions")

	// Retry reruns the whole pipeline from the stored transcript, so the
	// session ends up completed rather than merely reset.
	out, _, err = runCLI(t, configPath, "sessions", "show", "broken-session")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	requireContains(t, out, "completed")

	out, _, err = runCLI(t, configPath, "sessions", "clear")
	if err != nil {
		t.Fatalf("sessions clear: %v", err)
	}
	requireContains(t, out, "Cleared 2 completed sessions")

	out, _, err = runCLI(t, configPath, "sessions", "retry")
	if err != nil {
		t.Fatalf("sessions retry: %v", err)
	}
	requireContains(t, out, "No failed sessions to retry")
}

func TestSessionsRemove(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	seedSessions(t, configPath)

	out, _, err := runCLI(t, configPath, "sessions", "remove", "broken-session")
	if err != nil {
		t.Fatalf("sessions remove: %v", err)
	}
	requireContains(t, out, "Removed session broken-session")

	_, _, err = runCLI(t, configPath, "sessions", "remove", "broken-session")
	if err == nil {
		t.Fatal("expected error removing an already-removed session")
	}
}
