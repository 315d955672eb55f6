package main

import (
	"testing"
)

const sampleTranscriptJSON = `[
	{"speaker": "rep", "text": "Hi there, how's your day going?"},
	{"speaker": "customer", "text": "Fine, thanks."},
	{"speaker": "rep", "text": "Have you noticed any ants around the house?"},
	{"speaker": "customer", "text": "A few in the kitchen."},
	{"speaker": "rep", "text": "We can get you started today with the first treatment."},
	{"speaker": "customer", "text": "Okay, sounds good."}
]`

func TestGradeCommandEndToEnd(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	transcriptPath := writeTranscriptFile(t, sampleTranscriptJSON)

	out, _, err := runCLI(t, configPath,
		"grade", transcriptPath,
		"--session", "cli-session",
		"--duration", "120",
		"--timeout", "30s",
	)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	requireContains(t, out, "cli-session")
	requireContains(t, out, "completed")
	requireContains(t, out, "80")

	out, _, err = runCLI(t, configPath, "sessions", "show", "cli-session")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	requireContains(t, out, "completed")
	requireContains(t, out, "present")

	out, _, err = runCLI(t, configPath, "sessions", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	requireContains(t, out, "cli-session")
}

func TestGradeCommandRejectsEmptyTranscript(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	transcriptPath := writeTranscriptFile(t, `[]`)

	_, _, err := runCLI(t, configPath, "grade", transcriptPath, "--timeout", "10s")
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestGradeCommandRejectsMalformedFile(t *testing.T) {
	server := newStubLLMServer(t)
	configPath := writeCLIConfig(t, server.URL)
	transcriptPath := writeTranscriptFile(t, `not json`)

	_, _, err := runCLI(t, configPath, "grade", transcriptPath)
	if err == nil {
		t.Fatal("expected error for malformed transcript")
	}
}
