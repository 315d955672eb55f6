package api

import (
	"encoding/json"
	"time"

	"dooriq/internal/queue"
)

// FromSession converts a persisted session into its API view. Stage payloads
// are passed through as raw JSON; a payload that has not landed yet is simply
// absent.
func FromSession(session *queue.Session) SessionView {
	if session == nil {
		return SessionView{}
	}
	return SessionView{
		SessionID:       session.SessionID,
		Status:          string(session.Status),
		DurationSeconds: session.DurationSeconds,
		OverallScore:    session.OverallScore,
		SaleClosed:      session.SaleClosed,
		InstantMetrics:  rawJSON(session.InstantMetricsJSON),
		KeyMoments:      rawJSON(session.KeyMomentsJSON),
		LineRatings:     rawJSON(session.LineRatingsJSON),
		DeepGrade:       rawJSON(session.DeepGradeJSON),
		Progress:        ProgressFromSession(session),
		ErrorMessage:    session.ErrorMessage,
		CreatedAt:       formatTime(session.CreatedAt),
		UpdatedAt:       formatTime(session.UpdatedAt),
	}
}

// ProgressFromSession extracts just the polling contract fields.
func ProgressFromSession(session *queue.Session) SessionProgress {
	if session == nil {
		return SessionProgress{}
	}
	return SessionProgress{
		Status:            string(session.Status),
		LineRatingsStatus: string(session.LineRatingsStatus),
		CompletedBatches:  session.CompletedBatches,
		TotalBatches:      session.TotalBatches,
	}
}

// FromSessions converts a slice of sessions, preserving order.
func FromSessions(sessions []*queue.Session) []SessionView {
	if len(sessions) == 0 {
		return nil
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, FromSession(session))
	}
	return views
}

// FromHealth converts store health counters.
func FromHealth(health queue.HealthSummary) HealthView {
	return HealthView{
		Total:       health.Total,
		Active:      health.Active,
		Completed:   health.Completed,
		Failed:      health.Failed,
		PendingJobs: health.PendingJobs,
	}
}

func rawJSON(value string) json.RawMessage {
	if value == "" {
		return nil
	}
	return json.RawMessage(value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
