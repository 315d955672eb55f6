package queue_test

import (
	"context"
	"testing"
	"time"

	"dooriq/internal/queue"
	"dooriq/internal/ratings"
	"dooriq/internal/testsupport"
	"dooriq/internal/transcript"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	session := testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	if session.ID == 0 {
		t.Fatal("expected session ID to be assigned")
	}
	if session.Status != queue.StatusNotStarted {
		t.Fatalf("status = %s, want not_started", session.Status)
	}

	fetched, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if fetched == nil || fetched.SessionID != "session-1" {
		t.Fatalf("unexpected fetched session: %#v", fetched)
	}
}

func TestNewSessionResetsExistingRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	session := testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	session.Status = queue.StatusCompleted
	session.DeepGradeJSON = `{"overall_score":80}`
	session.OverallScore = 80
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	// Re-grading the same session starts the state machine over.
	refreshed := testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	if refreshed.Status != queue.StatusNotStarted {
		t.Fatalf("status after regrade = %s, want not_started", refreshed.Status)
	}
	if refreshed.DeepGradeJSON != "" || refreshed.OverallScore != 0 {
		t.Fatalf("stage results not cleared: %#v", refreshed)
	}
}

func TestRegradeReplacesRatingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")
	for i := 0; i < 3; i++ {
		job, err := store.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("ClaimNextJob %d failed: %v", i, err)
		}
		if job == nil {
			t.Fatalf("no claimable job on iteration %d", i)
		}
		if _, err := store.CompleteJob(ctx, job.ID, "session-1", nil); err != nil {
			t.Fatalf("CompleteJob %d failed: %v", i, err)
		}
	}

	// A second grading run must start from an empty job set instead of
	// colliding with the completed rows of the first run.
	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	jobs, err := store.JobsForSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("JobsForSession failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count after regrade = %d, want 3", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != queue.JobPending {
			t.Fatalf("job %d status = %s, want pending", job.BatchIndex, job.Status)
		}
	}

	job, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("ClaimNextJob after regrade failed: %v", err)
	}
	if job == nil {
		t.Fatal("no claimable job after regrade")
	}
	progress, err := store.CompleteJob(ctx, job.ID, "session-1", nil)
	if err != nil {
		t.Fatalf("CompleteJob after regrade failed: %v", err)
	}
	if progress.CompletedBatches != 1 || progress.TotalBatches != 3 {
		t.Fatalf("progress after regrade = %+v", progress)
	}
}

func TestNewSessionRequiresID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.NewSession(context.Background(), "", "[]", 0); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func enqueueThreeBatches(t *testing.T, store *queue.Store, sessionID string) []ratings.Batch {
	t.Helper()

	lines := make([]transcript.Utterance, 12)
	for i := range lines {
		lines[i] = transcript.Utterance{Index: i, Role: transcript.RoleRep, Text: "line"}
	}
	batches := ratings.Partition(sessionID, lines, 5)
	if err := store.EnqueueBatches(context.Background(), batches); err != nil {
		t.Fatalf("EnqueueBatches failed: %v", err)
	}
	return batches
}

func TestEnqueueBatchesIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	batches := enqueueThreeBatches(t, store, "session-1")

	// Re-enqueueing the same partition is a safe no-op.
	if err := store.EnqueueBatches(ctx, batches); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	jobs, err := store.JobsForSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("JobsForSession failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count = %d, want 3", len(jobs))
	}
}

func TestClaimNextJobBumpsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	job, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimed job")
	}
	if job.Status != queue.JobProcessing || job.Attempts != 1 {
		t.Fatalf("claimed job = %+v", job)
	}
	batch, err := job.Batch()
	if err != nil {
		t.Fatalf("Batch decode failed: %v", err)
	}
	if batch.TotalBatches != 3 {
		t.Fatalf("payload total batches = %d, want 3", batch.TotalBatches)
	}
}

func TestCompleteJobOrderIndependent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	jobs, err := store.JobsForSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("JobsForSession failed: %v", err)
	}

	// Complete batches in arrival order 2, 0, 1.
	for _, idx := range []int{2, 0, 1} {
		job := jobs[idx]
		batch, err := job.Batch()
		if err != nil {
			t.Fatalf("Batch decode failed: %v", err)
		}
		results := make([]ratings.LineRating, len(batch.Utterances))
		for i, utt := range batch.Utterances {
			results[i] = ratings.LineRating{Index: utt.Index, Rating: ratings.RatingGood}
		}
		progress, err := store.CompleteJob(ctx, job.ID, "session-1", results)
		if err != nil {
			t.Fatalf("CompleteJob failed: %v", err)
		}
		wantDone := idx == 1 // last of the three arrivals
		if progress.Done != wantDone {
			t.Fatalf("Done = %v after batch %d, want %v", progress.Done, job.BatchIndex, wantDone)
		}
	}

	session, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !session.RatingsComplete() {
		t.Fatalf("session not complete: %d/%d", session.CompletedBatches, session.TotalBatches)
	}
	if session.LineRatingsStatus != queue.BatchesCompleted {
		t.Fatalf("line ratings status = %s, want completed", session.LineRatingsStatus)
	}
	merged, err := ratings.DecodeRatings([]byte(session.LineRatingsJSON))
	if err != nil {
		t.Fatalf("DecodeRatings failed: %v", err)
	}
	if len(merged) != 12 {
		t.Fatalf("merged rating count = %d, want 12", len(merged))
	}
}

func TestCompleteJobIdempotentOnRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	jobs, _ := store.JobsForSession(ctx, "session-1")
	results := []ratings.LineRating{{Index: 0, Rating: ratings.RatingGood}}

	if _, err := store.CompleteJob(ctx, jobs[0].ID, "session-1", results); err != nil {
		t.Fatalf("first CompleteJob failed: %v", err)
	}
	progress, err := store.CompleteJob(ctx, jobs[0].ID, "session-1", results)
	if err != nil {
		t.Fatalf("replayed CompleteJob failed: %v", err)
	}
	if progress.CompletedBatches != 1 {
		t.Fatalf("completed batches = %d, want 1 (replay must not double count)", progress.CompletedBatches)
	}

	session, _ := store.GetSession(ctx, "session-1")
	merged, err := ratings.DecodeRatings([]byte(session.LineRatingsJSON))
	if err != nil {
		t.Fatalf("DecodeRatings failed: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("merged rating count = %d, want 1", len(merged))
	}
}

func TestRequeueAndFailJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	job, _ := store.ClaimNextJob(ctx)
	if err := store.RequeueJob(ctx, job.ID, "transient"); err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}
	reclaimed, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("ClaimNextJob after requeue failed: %v", err)
	}
	if reclaimed.ID != job.ID {
		t.Fatalf("expected requeued job to be claimed first, got %d want %d", reclaimed.ID, job.ID)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", reclaimed.Attempts)
	}

	if err := store.FailJob(ctx, reclaimed.ID, "session-1", "exhausted retries"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	session, _ := store.GetSession(ctx, "session-1")
	if session.LineRatingsStatus != queue.BatchesFailed {
		t.Fatalf("line ratings status = %s, want failed", session.LineRatingsStatus)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	// Heartbeat is fresh, so nothing reclaims yet.
	reclaimed, err := store.ReclaimStaleJobs(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0 for fresh heartbeat", reclaimed)
	}

	reclaimed, err = store.ReclaimStaleJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1 for expired heartbeat", reclaimed)
	}
}

func TestRetryFailedSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	session := testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	session.SetFailed("deep grade contract violation")
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	count, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("retried = %d, want 1", count)
	}
	refreshed, _ := store.GetSession(ctx, "session-1")
	if refreshed.Status != queue.StatusNotStarted {
		t.Fatalf("status = %s, want not_started", refreshed.Status)
	}
	if refreshed.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", refreshed.ErrorMessage)
	}

	// The retried session keeps its transcript, so a resume pass can
	// rebuild the grading request from the store alone.
	resumable, err := store.ListResumable(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ListResumable failed: %v", err)
	}
	if len(resumable) != 1 || resumable[0].SessionID != "session-1" {
		t.Fatalf("resumable sessions = %+v", resumable)
	}
	if resumable[0].TranscriptJSON == "" {
		t.Fatal("resumable session lost its transcript")
	}

	resumable, err = store.ListResumable(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListResumable failed: %v", err)
	}
	if len(resumable) != 0 {
		t.Fatalf("freshly updated session should not be resumable yet, got %d", len(resumable))
	}
}

func TestHealthSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	enqueueThreeBatches(t, store, "session-1")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 1 || health.Active != 1 {
		t.Fatalf("health = %+v", health)
	}
	if health.PendingJobs != 3 {
		t.Fatalf("pending jobs = %d, want 3", health.PendingJobs)
	}
}
