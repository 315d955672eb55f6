package api_test

import (
	"context"
	"testing"
	"time"

	"dooriq/internal/api"
	"dooriq/internal/queue"
	"dooriq/internal/testsupport"
)

func TestFromSessionPassesStagePayloadsThrough(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	session := &queue.Session{
		SessionID:          "session-1",
		Status:             queue.StatusProcessing,
		DurationSeconds:    120,
		InstantMetricsJSON: `{"overall":72}`,
		LineRatingsStatus:  queue.BatchesProcessing,
		CompletedBatches:   1,
		TotalBatches:       3,
		CreatedAt:          now,
	}

	view := api.FromSession(session)
	if view.Status != "processing" {
		t.Fatalf("status = %s", view.Status)
	}
	if string(view.InstantMetrics) != `{"overall":72}` {
		t.Fatalf("instant metrics = %s", view.InstantMetrics)
	}
	if view.KeyMoments != nil {
		t.Fatal("absent payload should stay nil")
	}
	if view.Progress.CompletedBatches != 1 || view.Progress.TotalBatches != 3 {
		t.Fatalf("progress = %+v", view.Progress)
	}
	if view.CreatedAt != "2026-03-14T10:30:00Z" {
		t.Fatalf("created at = %s", view.CreatedAt)
	}
}

func TestSessionServiceDescribeMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	svc := api.NewSessionService(store)
	view, err := svc.Describe(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if view != nil {
		t.Fatal("missing session should yield nil view")
	}
}

func TestSessionServiceListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewSession(t, store, "session-1", testsupport.SampleRecords())
	testsupport.NewSession(t, store, "session-2", testsupport.SampleRecords())
	if err := store.SetStatus(ctx, "session-2", queue.StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	svc := api.NewSessionService(store)
	views, err := svc.List(ctx, queue.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 1 || views[0].SessionID != "session-2" {
		t.Fatalf("filtered list = %+v", views)
	}
}
