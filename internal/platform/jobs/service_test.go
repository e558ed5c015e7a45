package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/domain/queue"
	"feedbacksync/internal/domain/retention"
	"feedbacksync/internal/platform/config"
	cryptoutil "feedbacksync/internal/platform/crypto"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := queue.NewStore(":memory:")
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	conn, err := store.Conn()
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	crypto, err := cryptoutil.New("")
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	auditSvc := audit.New(conn, crypto, 1000)
	retentionSvc := retention.NewService(retention.NewStore(conn), crypto, auditSvc)
	if err := retentionSvc.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed defaults: %v", err)
	}
	return New(config.Config{}, store, auditSvc, retentionSvc)
}

func TestRunNowRecordsOutcome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	details, err := svc.RunNow(ctx, JobCacheSweep, svc.runCacheSweep)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	out, ok := details.(map[string]any)
	if !ok || out["removed"] != int64(0) {
		t.Fatalf("unexpected details: %#v", details)
	}

	runs, err := svc.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].JobType != JobCacheSweep || runs[0].Status != "completed" {
		t.Fatalf("unexpected run record: %+v", runs[0])
	}
	if runs[0].CompletedAt.IsZero() {
		t.Fatal("expected completion timestamp")
	}
	var decoded map[string]any
	if err := json.Unmarshal(runs[0].Details, &decoded); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if decoded["removed"] != float64(0) {
		t.Fatalf("unexpected details payload: %v", decoded)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	boom := errors.New("boom")
	if _, err := svc.RunNow(ctx, "broken_job", func(context.Context) (any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected job error surfaced, got %v", err)
	}

	runs, err := svc.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "failed" {
		t.Fatalf("expected a failed run record, got %+v", runs)
	}
}

func TestCacheSweepJobRemovesExpiredEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Store.SetCache(ctx, "stale", json.RawMessage(`1`), time.Nanosecond); err != nil {
		t.Fatalf("set cache: %v", err)
	}
	if err := svc.Store.SetCache(ctx, "fresh", json.RawMessage(`2`), time.Hour); err != nil {
		t.Fatalf("set cache: %v", err)
	}
	time.Sleep(time.Millisecond)

	details, err := svc.RunNow(ctx, JobCacheSweep, svc.runCacheSweep)
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	out := details.(map[string]any)
	if out["removed"] != int64(1) {
		t.Fatalf("expected 1 entry swept, got %v", out)
	}
}

func TestRetentionJobExecutesDueActions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Retention.RegisterRecord(ctx, retention.DataTypeCache, "cache-1", nil, 0); err != nil {
		t.Fatalf("register record: %v", err)
	}

	// Nothing is due yet, so the job reports zero executions.
	details, err := svc.RunNow(ctx, JobRetention, svc.runRetention)
	if err != nil {
		t.Fatalf("run retention: %v", err)
	}
	out := details.(map[string]any)
	if out["executed"] != 0 {
		t.Fatalf("expected no due actions, got %v", out)
	}
}
