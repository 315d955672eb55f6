package queue

import (
	"strings"
	"time"
)

// Status represents the grading lifecycle of a session.
type Status string

const (
	StatusNotStarted      Status = "not_started"
	StatusInstantComplete Status = "instant_complete"
	StatusMomentsComplete Status = "moments_complete"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

var allStatuses = []Status{
	StatusNotStarted,
	StatusInstantComplete,
	StatusMomentsComplete,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the status reflects a grading run still in flight.
func (s Status) IsActive() bool {
	switch s {
	case StatusNotStarted, StatusInstantComplete, StatusMomentsComplete, StatusProcessing:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle of a queued rating batch.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// BatchStatus summarizes line-rating progress for a session.
type BatchStatus string

const (
	BatchesPending    BatchStatus = "pending"
	BatchesProcessing BatchStatus = "processing"
	BatchesCompleted  BatchStatus = "completed"
	BatchesFailed     BatchStatus = "failed"
)

// Session is the aggregate grading record persisted in SQLite. Each stage
// owns its slice of the record; a later grading run for the same session
// supersedes the earlier one in place.
type Session struct {
	ID                 int64
	SessionID          string
	Status             Status
	TranscriptJSON     string
	DurationSeconds    float64
	InstantMetricsJSON string
	KeyMomentsJSON     string
	LineRatingsJSON    string
	TotalBatches       int
	CompletedBatches   int
	LineRatingsStatus  BatchStatus
	DeepGradeJSON      string
	OverallScore       int
	SaleClosed         bool
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastHeartbeat      *time.Time
}

// SetFailed marks the session as failed with the given error note. Already
// persisted stage results stay untouched.
func (s *Session) SetFailed(message string) {
	s.Status = StatusFailed
	s.ErrorMessage = message
	s.LastHeartbeat = nil
}

// RatingsComplete reports whether every rating batch has landed.
func (s *Session) RatingsComplete() bool {
	return s.TotalBatches > 0 && s.CompletedBatches >= s.TotalBatches
}

// Job is one queued line-rating batch. Identity is (SessionID, BatchIndex),
// so re-enqueueing the same batch is a no-op.
type Job struct {
	ID            int64
	SessionID     string
	BatchIndex    int
	TotalBatches  int
	PayloadJSON   string
	Status        JobStatus
	Attempts      int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// HealthSummary describes aggregated session counts per lifecycle state.
type HealthSummary struct {
	Total       int
	Active      int
	Completed   int
	Failed      int
	PendingJobs int
}
