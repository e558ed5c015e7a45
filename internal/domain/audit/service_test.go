package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	cryptoutil "feedbacksync/internal/platform/crypto"
	"feedbacksync/internal/platform/db"
)

func newTestService(t *testing.T, key string, maxEntries int) (*Service, *sql.DB) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	crypto, err := cryptoutil.New(key)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	return New(conn, crypto, maxEntries), conn
}

func TestLogEventDerivesRiskLevels(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	ctx := context.Background()

	cases := []struct {
		action       string
		resourceType string
		want         string
	}{
		{ActionBreach, ResourceSystem, RiskCritical},
		{ActionAccessDenied, ResourceFeedback, RiskCritical},
		{ActionDelete, ResourceFeedback, RiskHigh},
		{ActionExport, ResourceReport, RiskHigh},
		{ActionBulk, ResourceSystem, RiskHigh},
		{ActionRead, ResourcePatientData, RiskMedium},
		{ActionUpdate, ResourceMedicalRecord, RiskMedium},
		{ActionRead, ResourceFeedback, RiskLow},
	}
	for _, tc := range cases {
		id, err := svc.LogEvent(ctx, Entry{Action: tc.action, ResourceType: tc.resourceType})
		if err != nil {
			t.Fatalf("log %s/%s failed: %v", tc.action, tc.resourceType, err)
		}
		events, err := svc.Query(ctx, Filter{Action: tc.action, ResourceType: tc.resourceType})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		found := false
		for _, ev := range events {
			if ev.ID != id {
				continue
			}
			found = true
			if ev.RiskLevel != tc.want {
				t.Fatalf("%s on %s: expected risk %s, got %s", tc.action, tc.resourceType, tc.want, ev.RiskLevel)
			}
		}
		if !found {
			t.Fatalf("event %s not returned by query", id)
		}
	}
}

func TestLogEventRequiresActionAndResource(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	ctx := context.Background()
	if _, err := svc.LogEvent(ctx, Entry{ResourceType: ResourceFeedback}); err == nil {
		t.Fatal("expected error for missing action")
	}
	if _, err := svc.LogEvent(ctx, Entry{Action: ActionRead}); err == nil {
		t.Fatal("expected error for missing resource type")
	}
}

func TestSensitiveEventsAreEncryptedAtRest(t *testing.T) {
	svc, conn := newTestService(t, "ward-7-secret", 1000)
	ctx := context.Background()

	id, err := svc.LogEvent(ctx, Entry{
		Action:       ActionRead,
		ResourceType: ResourcePatientData,
		ResourceID:   "p-42",
		Description:  "viewed allergy list",
	})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}

	var stored string
	var encrypted bool
	if err := conn.QueryRow(`SELECT description, encrypted FROM audit_events WHERE id = ?`, id).Scan(&stored, &encrypted); err != nil {
		t.Fatalf("read stored row: %v", err)
	}
	if !encrypted {
		t.Fatal("expected patient data event to be marked encrypted")
	}
	if strings.Contains(stored, "allergy") {
		t.Fatal("stored description leaks plaintext")
	}

	events, err := svc.Query(ctx, Filter{ResourceID: "p-42"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Description != "viewed allergy list" {
		t.Fatalf("expected decrypted description, got %q", events[0].Description)
	}
}

func TestLowRiskEventsStayPlain(t *testing.T) {
	svc, conn := newTestService(t, "ward-7-secret", 1000)
	ctx := context.Background()

	id, err := svc.LogEvent(ctx, Entry{
		Action:       ActionRead,
		ResourceType: ResourceFeedback,
		Description:  "listed feedback queue",
	})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	var encrypted bool
	if err := conn.QueryRow(`SELECT encrypted FROM audit_events WHERE id = ?`, id).Scan(&encrypted); err != nil {
		t.Fatalf("read stored row: %v", err)
	}
	if encrypted {
		t.Fatal("low risk feedback read should not be encrypted")
	}
}

func TestQueryReturnsNewestFirstWithPagination(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	base := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := svc.LogEvent(ctx, Entry{Action: ActionRead, ResourceType: ResourceFeedback})
		if err != nil {
			t.Fatalf("log failed: %v", err)
		}
		ids = append(ids, id)
	}

	page, err := svc.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page))
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("expected newest first, got %s then %s", page[0].ID, page[1].ID)
	}

	page, err = svc.Query(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("offset query failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Fatalf("expected offset to continue the sequence, got %+v", page)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	svc, conn := newTestService(t, "", 1000)
	ctx := context.Background()

	id1, err := svc.LogEvent(ctx, Entry{Action: ActionRead, ResourceType: ResourceFeedback, Description: "first"})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if _, err := svc.LogEvent(ctx, Entry{Action: ActionRead, ResourceType: ResourceFeedback, Description: "second"}); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	result, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.TotalEvents != 2 || result.ValidEvents != 2 || len(result.CorruptedEvents) != 0 {
		t.Fatalf("expected clean trail, got %+v", result)
	}
	if result.IntegrityScore != 1.0 {
		t.Fatalf("expected score 1.0, got %f", result.IntegrityScore)
	}

	if _, err := conn.Exec(`UPDATE audit_events SET description = 'doctored' WHERE id = ?`, id1); err != nil {
		t.Fatalf("tamper with row: %v", err)
	}

	result, err = svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify after tamper failed: %v", err)
	}
	if result.ValidEvents != 1 {
		t.Fatalf("expected 1 valid event, got %d", result.ValidEvents)
	}
	if len(result.CorruptedEvents) != 1 || result.CorruptedEvents[0] != id1 {
		t.Fatalf("expected %s flagged as corrupted, got %v", id1, result.CorruptedEvents)
	}
	if result.IntegrityScore != 0.5 {
		t.Fatalf("expected score 0.5, got %f", result.IntegrityScore)
	}
}

func TestVerifyIntegrityEmptyTrail(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	result, err := svc.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.IntegrityScore != 1.0 {
		t.Fatalf("expected empty trail to score 1.0, got %f", result.IntegrityScore)
	}
}

func TestComplianceReportAggregates(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	ctx := context.Background()

	entries := []Entry{
		{Action: ActionRead, ResourceType: ResourcePatientData},
		{Action: ActionRead, ResourceType: ResourceFeedback},
		{Action: ActionDelete, ResourceType: ResourceFeedback},
		{Action: ActionLogin, ResourceType: ResourceSystem, Outcome: OutcomeFailure},
	}
	for _, entry := range entries {
		if _, err := svc.LogEvent(ctx, entry); err != nil {
			t.Fatalf("log failed: %v", err)
		}
	}

	now := time.Now()
	report, err := svc.ComplianceReport(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.TotalEvents != 4 {
		t.Fatalf("expected 4 events, got %d", report.TotalEvents)
	}
	if report.ByAction[ActionRead] != 2 {
		t.Fatalf("expected 2 reads, got %d", report.ByAction[ActionRead])
	}
	if report.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", report.Failures)
	}
	if report.AccessByCategory["patientData"] != 1 ||
		report.AccessByCategory["feedback"] != 2 ||
		report.AccessByCategory["system"] != 1 {
		t.Fatalf("unexpected category split: %+v", report.AccessByCategory)
	}
	if len(report.HighRiskEvents) != 1 || report.HighRiskEvents[0].Action != ActionDelete {
		t.Fatalf("expected the delete flagged as high risk, got %+v", report.HighRiskEvents)
	}
}

func TestCleanupPrunesExpiredAndEnforcesCap(t *testing.T) {
	svc, conn := newTestService(t, "", 3)
	ctx := context.Background()

	base := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := svc.LogEvent(ctx, Entry{Action: ActionRead, ResourceType: ResourceFeedback})
		if err != nil {
			t.Fatalf("log failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Age the first event past the retention window.
	expired := base.AddDate(0, 0, -(RetentionDays + 1)).UnixNano()
	if _, err := conn.Exec(`UPDATE audit_events SET ts = ? WHERE id = ?`, expired, ids[0]); err != nil {
		t.Fatalf("age row: %v", err)
	}

	removed, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	// One expired row plus one over the cap of three.
	if removed != 2 {
		t.Fatalf("expected 2 rows removed, got %d", removed)
	}

	var total int
	if err := conn.QueryRow(`SELECT COUNT(1) FROM audit_events`).Scan(&total); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 surviving rows, got %d", total)
	}

	// The cap removes the oldest remaining event, so the second one
	// must be gone and the newest three must survive.
	events, err := svc.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	for _, ev := range events {
		if ev.ID == ids[1] {
			t.Fatal("expected the oldest surviving event to be removed by the cap")
		}
	}
}

func TestHighRiskEventsAreDeliveredToAlerts(t *testing.T) {
	svc, _ := newTestService(t, "", 1000)
	ctx := context.Background()

	id, err := svc.LogEvent(ctx, Entry{Action: ActionBreach, ResourceType: ResourceSystem})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	select {
	case ev := <-svc.Alerts():
		if ev.ID != id {
			t.Fatalf("expected alert for %s, got %s", id, ev.ID)
		}
		if ev.RiskLevel != RiskCritical {
			t.Fatalf("expected critical risk, got %s", ev.RiskLevel)
		}
	default:
		t.Fatal("expected an alert for a breach attempt")
	}
}
