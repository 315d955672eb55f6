package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dooriq/internal/ratings"
)

// EnqueueBatches inserts one job per rating batch. Job identity is
// (session_id, batch_index), so re-enqueueing an existing batch is a no-op.
// The session's batch counters are reset to match the new partition.
func (s *Store) EnqueueBatches(ctx context.Context, batches []ratings.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	sessionID := batches[0].SessionID
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, batch := range batches {
		payload, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("marshal batch payload: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO rating_jobs (
                session_id, batch_index, total_batches, payload_json,
                status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(session_id, batch_index) DO NOTHING`,
			batch.SessionID,
			batch.BatchIndex,
			batch.TotalBatches,
			string(payload),
			JobPending,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert rating job: %w", err)
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE sessions
         SET total_batches = ?, line_ratings_status = ?, updated_at = ?
         WHERE session_id = ?`,
		batches[0].TotalBatches,
		BatchesProcessing,
		timestamp,
		sessionID,
	); err != nil {
		return fmt.Errorf("update session batch counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest pending job, marking it
// processing and bumping its attempt counter. Returns (nil, nil) when the
// queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM rating_jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		JobPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, attempts = attempts + 1, last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		JobProcessing, timestamp, timestamp, job.ID,
	); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = JobProcessing
	job.Attempts++
	job.LastHeartbeat = &now
	return job, nil
}

// Batch decodes the job's payload.
func (j *Job) Batch() (ratings.Batch, error) {
	var batch ratings.Batch
	if err := json.Unmarshal([]byte(j.PayloadJSON), &batch); err != nil {
		return ratings.Batch{}, fmt.Errorf("decode job payload: %w", err)
	}
	return batch, nil
}

// BatchProgress reports line-rating completion after a merge.
type BatchProgress struct {
	CompletedBatches int
	TotalBatches     int
	Done             bool
}

// CompleteJob marks the job completed and merges its ratings into the
// session in one transaction. The merge is an atomic read-merge-write keyed
// by utterance index, so two batches landing simultaneously never lose
// updates, and replaying a retried batch is idempotent. Completion is
// derived from the count of distinct completed jobs, independent of arrival
// order.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, sessionID string, incoming []ratings.LineRating) (BatchProgress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchProgress{}, fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, error_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		JobCompleted, timestamp, jobID,
	); err != nil {
		return BatchProgress{}, fmt.Errorf("complete job: %w", err)
	}

	var (
		existingJSON sql.NullString
		totalBatches int
	)
	row := tx.QueryRowContext(ctx,
		`SELECT line_ratings_json, total_batches FROM sessions WHERE session_id = ?`, sessionID)
	if err := row.Scan(&existingJSON, &totalBatches); err != nil {
		return BatchProgress{}, fmt.Errorf("read session ratings: %w", err)
	}

	existing, err := ratings.DecodeRatings(json.RawMessage(existingJSON.String))
	if err != nil {
		return BatchProgress{}, err
	}
	merged, err := ratings.EncodeRatings(ratings.Merge(existing, incoming))
	if err != nil {
		return BatchProgress{}, err
	}

	var completed int
	row = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rating_jobs WHERE session_id = ? AND status = ?`,
		sessionID, JobCompleted)
	if err := row.Scan(&completed); err != nil {
		return BatchProgress{}, fmt.Errorf("count completed jobs: %w", err)
	}

	progress := BatchProgress{
		CompletedBatches: completed,
		TotalBatches:     totalBatches,
		Done:             totalBatches > 0 && completed >= totalBatches,
	}
	batchStatus := BatchesProcessing
	if progress.Done {
		batchStatus = BatchesCompleted
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions
         SET line_ratings_json = ?, completed_batches = ?, line_ratings_status = ?, updated_at = ?
         WHERE session_id = ?`,
		string(merged), completed, batchStatus, timestamp, sessionID,
	); err != nil {
		return BatchProgress{}, fmt.Errorf("merge session ratings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return BatchProgress{}, fmt.Errorf("commit complete: %w", err)
	}
	return progress, nil
}

// RequeueJob returns a job to pending after a transient failure so the pool
// can pick it up again.
func (s *Store) RequeueJob(ctx context.Context, jobID int64, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		JobPending, nullableString(message), timestamp, jobID,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// FailJob marks a job permanently failed and flags the session's line-rating
// progress as failed.
func (s *Store) FailJob(ctx context.Context, jobID int64, sessionID, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE rating_jobs
         SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		JobFailed, nullableString(message), timestamp, jobID,
	); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET line_ratings_status = ?, updated_at = ? WHERE session_id = ?`,
		BatchesFailed, timestamp, sessionID,
	); err != nil {
		return fmt.Errorf("flag session ratings failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail: %w", err)
	}
	return nil
}

// UpdateJobHeartbeat refreshes the heartbeat of an in-flight job.
func (s *Store) UpdateJobHeartbeat(ctx context.Context, jobID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE rating_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("update job heartbeat: %w", err)
	}
	return nil
}

// JobsForSession returns the session's jobs ordered by batch index.
func (s *Store) JobsForSession(ctx context.Context, sessionID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM rating_jobs WHERE session_id = ? ORDER BY batch_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const jobColumns = "id, session_id, batch_index, total_batches, payload_json, status, attempts, error_message, created_at, updated_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		sessionID    string
		batchIndex   int
		totalBatches int
		payload      string
		statusStr    string
		attempts     int
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		heartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&batchIndex,
		&totalBatches,
		&payload,
		&statusStr,
		&attempts,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		SessionID:    sessionID,
		BatchIndex:   batchIndex,
		TotalBatches: totalBatches,
		PayloadJSON:  payload,
		Status:       JobStatus(statusStr),
		Attempts:     attempts,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}
