package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateSessionHeartbeat refreshes the heartbeat of a session whose grading
// run is in flight.
func (s *Store) UpdateSessionHeartbeat(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_heartbeat = ?, updated_at = ? WHERE session_id = ?`,
		now, now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleSessions returns sessions whose grading run died mid-flight
// back to not_started so the workflow picks them up again.
func (s *Store) ReclaimStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusNotStarted,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusNotStarted,
		StatusInstantComplete,
		StatusMomentsComplete,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListResumable returns not_started sessions with a stored transcript whose
// last update is older than cutoff, oldest first. The cutoff keeps a freshly
// submitted session out of the result while its initial run is still between
// creation and the first stage write.
func (s *Store) ListResumable(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
         WHERE status = ? AND transcript_json IS NOT NULL AND transcript_json != '' AND updated_at < ?
         ORDER BY updated_at`,
		StatusNotStarted,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list resumable sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ReclaimStaleJobs returns processing jobs with expired heartbeats to
// pending so another worker can claim them.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		JobPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		JobProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckJobs moves all processing jobs back to pending. Called once at
// daemon startup, before any worker runs.
func (s *Store) ResetStuckJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		JobPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		JobProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed sessions back to not_started for regrading.
func (s *Store) RetryFailed(ctx context.Context, sessionIDs ...string) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if len(sessionIDs) == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions
             SET status = ?, error_message = NULL, updated_at = ?
             WHERE status = ?`,
			StatusNotStarted, timestamp, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed sessions: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(sessionIDs))
	args := make([]any, 0, len(sessionIDs)+3)
	args = append(args, StatusNotStarted, timestamp, StatusFailed)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
         SET status = ?, error_message = NULL, updated_at = ?
         WHERE status = ? AND session_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected sessions: %w", err)
	}
	return res.RowsAffected()
}

// RemoveSession deletes a session and its rating jobs.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rating_jobs WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("delete session jobs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes completed sessions and their jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.clearByStatus(ctx, StatusCompleted)
}

// ClearFailed removes failed sessions and their jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.clearByStatus(ctx, StatusFailed)
}

func (s *Store) clearByStatus(ctx context.Context, status Status) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rating_jobs WHERE session_id IN (SELECT session_id FROM sessions WHERE status = ?)`,
		status,
	); err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return affected, nil
}
