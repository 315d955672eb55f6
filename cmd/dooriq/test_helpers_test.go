package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const stubGradeResult = `{"sale_closed":true,"scores":{"rapport":80,"discovery":75,"objection_handling":70,"closing":85,"safety":90},"overall_score":80,"deal_details":{"product":"quarterly plan","price":"$129","frequency":"quarterly"},"strengths":["clear value framing"],"improvements":["ask for the close earlier"],"key_moments":[]}`

// newStubLLMServer answers every grading prompt with canned JSON, branching
// on the system message so one server covers all three stages.
func newStubLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Messages) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		system := payload.Messages[0].Content
		var content string
		switch {
		case strings.Contains(system, "grading one line"):
			content = `{"rating":"good","alternatives":["Try asking about their pest history first.","Lead with the neighborhood treatments."]}`
		case strings.Contains(system, "reviewing key moments"):
			content = `{"moments":[]}`
		case strings.Contains(system, "grading a complete"):
			content = stubGradeResult
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		quoted, _ := json.Marshal(content)
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%s},"finish_reason":"stop"}]}`, quoted)
	}))
	t.Cleanup(server.Close)
	return server
}

// writeCLIConfig lays down a minimal config file pointing every path at temp
// directories and the LLM at the stub server. Unset keys keep their defaults.
func writeCLIConfig(t *testing.T, llmBaseURL string) string {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	logDir := filepath.Join(base, "logs")

	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[llm]
api_key = "test-key"
base_url = %q
model = "test-model"
timeout_seconds = 5

[workers]
rate_per_second = 100
job_backoff_seconds = 1
`, dataDir, logDir, llmBaseURL)

	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTranscriptFile(t *testing.T, records string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := os.WriteFile(path, []byte(records), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
