package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dooriq/internal/config"
)

// Store manages grading state persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the sessions database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDBPath())
}

// OpenPath connects to the sessions database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// NewSession creates or resets the grading record for a session. Re-grading
// an existing session clears every stage's slice and drops the previous
// run's rating jobs in the same transaction, so the next EnqueueBatches
// starts from an empty job set instead of colliding with completed rows.
func (s *Store) NewSession(ctx context.Context, sessionID, transcriptJSON string, durationSeconds float64) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id cannot be empty")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM rating_jobs WHERE session_id = ?`,
		sessionID,
	); err != nil {
		return nil, fmt.Errorf("clear previous rating jobs: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sessions (
            session_id, status, transcript_json, duration_seconds,
            line_ratings_status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            status = excluded.status,
            transcript_json = excluded.transcript_json,
            duration_seconds = excluded.duration_seconds,
            instant_metrics_json = NULL,
            key_moments_json = NULL,
            line_ratings_json = NULL,
            total_batches = 0,
            completed_batches = 0,
            line_ratings_status = excluded.line_ratings_status,
            deep_grade_json = NULL,
            overall_score = 0,
            sale_closed = 0,
            error_message = NULL,
            updated_at = excluded.updated_at,
            last_heartbeat = NULL`,
		sessionID,
		StatusNotStarted,
		transcriptJSON,
		durationSeconds,
		BatchesPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// GetSession fetches a session record by its external identifier. A missing
// session yields (nil, nil).
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSession persists changes to an existing session record.
func (s *Store) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	session.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, transcript_json = ?, duration_seconds = ?,
             instant_metrics_json = ?, key_moments_json = ?, line_ratings_json = ?,
             total_batches = ?, completed_batches = ?, line_ratings_status = ?,
             deep_grade_json = ?, overall_score = ?, sale_closed = ?,
             error_message = ?, updated_at = ?, last_heartbeat = ?
         WHERE session_id = ?`,
		session.Status,
		nullableString(session.TranscriptJSON),
		session.DurationSeconds,
		nullableString(session.InstantMetricsJSON),
		nullableString(session.KeyMomentsJSON),
		nullableString(session.LineRatingsJSON),
		session.TotalBatches,
		session.CompletedBatches,
		session.LineRatingsStatus,
		nullableString(session.DeepGradeJSON),
		session.OverallScore,
		boolToInt(session.SaleClosed),
		nullableString(session.ErrorMessage),
		session.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(session.LastHeartbeat),
		session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// SetStatus transitions a session's grading status.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status Status) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// TryFinishSession promotes a processing session to completed once every
// rating batch has merged and the deep grade has landed. Both the worker
// pool and the deep-grade goroutine call this after their final write;
// whichever finishes last wins the transition. Returns true when the
// session transitioned.
func (s *Store) TryFinishSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE session_id = ? AND status = ?
           AND line_ratings_status = ?
           AND deep_grade_json IS NOT NULL`,
		StatusCompleted,
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
		StatusProcessing,
		BatchesCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetDeepGrade writes the deep-grade slice of a session without touching any
// other column, so it cannot clobber rating merges landing concurrently.
func (s *Store) SetDeepGrade(ctx context.Context, sessionID, deepGradeJSON string, overallScore int, saleClosed bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
         SET deep_grade_json = ?, overall_score = ?, sale_closed = ?, updated_at = ?
         WHERE session_id = ?`,
		deepGradeJSON,
		overallScore,
		boolToInt(saleClosed),
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("set deep grade: %w", err)
	}
	return nil
}

// MarkFailed records a stage failure with an error note. Already-persisted
// stage results stay in place for pollers.
func (s *Store) MarkFailed(ctx context.Context, sessionID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
         SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE session_id = ?`,
		StatusFailed,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session failed: %w", err)
	}
	return nil
}

// ListSessions returns sessions filtered by status set (or all sessions when
// no status is provided), oldest first.
func (s *Store) ListSessions(ctx context.Context, statuses ...Status) ([]*Session, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + sessionColumns + ` FROM sessions`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
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

// Stats returns a count of sessions grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates session and job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusCompleted:
			health.Completed += count
		case status == StatusFailed:
			health.Failed += count
		case status.IsActive():
			health.Active += count
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rating_jobs WHERE status = ?`, JobPending)
	if err := row.Scan(&health.PendingJobs); err != nil {
		return health, fmt.Errorf("count pending jobs: %w", err)
	}
	return health, nil
}

const sessionColumns = "id, session_id, status, transcript_json, duration_seconds, instant_metrics_json, key_moments_json, line_ratings_json, total_batches, completed_batches, line_ratings_status, deep_grade_json, overall_score, sale_closed, error_message, created_at, updated_at, last_heartbeat"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id               int64
		sessionID        string
		statusStr        string
		transcriptJSON   sql.NullString
		duration         sql.NullFloat64
		instantMetrics   sql.NullString
		keyMoments       sql.NullString
		lineRatings      sql.NullString
		totalBatches     sql.NullInt64
		completedBatches sql.NullInt64
		batchStatus      sql.NullString
		deepGrade        sql.NullString
		overallScore     sql.NullInt64
		saleClosed       sql.NullInt64
		errorMessage     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		heartbeatRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&statusStr,
		&transcriptJSON,
		&duration,
		&instantMetrics,
		&keyMoments,
		&lineRatings,
		&totalBatches,
		&completedBatches,
		&batchStatus,
		&deepGrade,
		&overallScore,
		&saleClosed,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:                 id,
		SessionID:          sessionID,
		Status:             Status(statusStr),
		TranscriptJSON:     transcriptJSON.String,
		DurationSeconds:    duration.Float64,
		InstantMetricsJSON: instantMetrics.String,
		KeyMomentsJSON:     keyMoments.String,
		LineRatingsJSON:    lineRatings.String,
		TotalBatches:       int(totalBatches.Int64),
		CompletedBatches:   int(completedBatches.Int64),
		LineRatingsStatus:  BatchStatus(batchStatus.String),
		DeepGradeJSON:      deepGrade.String,
		OverallScore:       int(overallScore.Int64),
		SaleClosed:         saleClosed.Int64 != 0,
		ErrorMessage:       errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		session.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			session.LastHeartbeat = &heartbeat
		}
	}
	return session, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
