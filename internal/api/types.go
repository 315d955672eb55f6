package api

import "encoding/json"

// SessionView describes a graded session in a transport-friendly format.
type SessionView struct {
	SessionID       string          `json:"sessionId"`
	Status          string          `json:"status"`
	DurationSeconds float64         `json:"durationSeconds,omitempty"`
	OverallScore    int             `json:"overallScore"`
	SaleClosed      bool            `json:"saleClosed"`
	InstantMetrics  json.RawMessage `json:"instantMetrics,omitempty"`
	KeyMoments      json.RawMessage `json:"keyMoments,omitempty"`
	LineRatings     json.RawMessage `json:"lineRatings,omitempty"`
	DeepGrade       json.RawMessage `json:"deepGrade,omitempty"`
	Progress        SessionProgress `json:"progress"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

// SessionProgress is the polling contract: enough state for a caller to
// render grading progress without fetching stage payloads.
type SessionProgress struct {
	Status            string `json:"status"`
	LineRatingsStatus string `json:"lineRatingsStatus"`
	CompletedBatches  int    `json:"completedBatches"`
	TotalBatches      int    `json:"totalBatches"`
}

// GradeRequest is the payload accepted by the grade endpoint.
type GradeRequest struct {
	SessionID       string           `json:"sessionId"`
	Transcript      []TranscriptLine `json:"transcript"`
	DurationSeconds float64          `json:"durationSeconds"`
	Speech          json.RawMessage  `json:"speech,omitempty"`
	SpeechExpected  bool             `json:"speechExpected,omitempty"`
}

// TranscriptLine matches the external ingest format.
type TranscriptLine struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// HealthView aggregates store counters for diagnostics.
type HealthView struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	PendingJobs int `json:"pendingJobs"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session SessionView `json:"session"`
}

// StatusResponse wraps the polling contract for one session.
type StatusResponse struct {
	SessionID string          `json:"sessionId"`
	Progress  SessionProgress `json:"progress"`
}
