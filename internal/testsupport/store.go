package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"dooriq/internal/config"
	"dooriq/internal/queue"
	"dooriq/internal/transcript"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates a grading session for tests using the provided store.
func NewSession(t testing.TB, store *queue.Store, sessionID string, records []transcript.Record) *queue.Session {
	t.Helper()

	payload, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal transcript: %v", err)
	}
	session, err := store.NewSession(context.Background(), sessionID, string(payload), 120)
	if err != nil {
		t.Fatalf("store.NewSession: %v", err)
	}
	return session
}

// SampleRecords returns a small rep/customer conversation useful as grading
// input in tests.
func SampleRecords() []transcript.Record {
	return []transcript.Record{
		{Speaker: "rep", Text: "Hi there, how's your day going?"},
		{Speaker: "customer", Text: "Fine, thanks."},
		{Speaker: "rep", Text: "Have you noticed any ants or spiders around the house?"},
		{Speaker: "customer", Text: "A few ants in the kitchen."},
		{Speaker: "rep", Text: "Everything we use is pet-safe and kid-safe."},
		{Speaker: "customer", Text: "That's too expensive for us."},
		{Speaker: "rep", Text: "I understand, let me show you the value."},
		{Speaker: "rep", Text: "We can get you started today with the first treatment."},
		{Speaker: "customer", Text: "Okay, sounds good."},
		{Speaker: "rep", Text: "Great, I'll write that up."},
	}
}

// MustTranscript builds a parsed transcript from records.
func MustTranscript(t testing.TB, sessionID string, records []transcript.Record) *transcript.Transcript {
	t.Helper()

	tr, err := transcript.FromRecords(sessionID, records)
	if err != nil {
		t.Fatalf("transcript.FromRecords: %v", err)
	}
	return tr
}
