package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"feedbacksync/internal/app/agent"
	"feedbacksync/internal/platform/config"
)

// fakeRemote stands in for the hospital API: it accepts submissions and
// remembers them.
type fakeRemote struct {
	mu       sync.Mutex
	received []map[string]any
	server   *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	remote := &fakeRemote{}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/feedback", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		remote.mu.Lock()
		remote.received = append(remote.received, payload)
		remote.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	remote.server = httptest.NewServer(mux)
	t.Cleanup(remote.server.Close)
	return remote
}

func (r *fakeRemote) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func testConfig(remoteURL string) config.Config {
	return config.Config{
		Addr:                 ":0",
		DBPath:               ":memory:",
		RemoteBaseURL:        remoteURL,
		Environment:          "test",
		SubmitTimeout:        5 * time.Second,
		StoreInitMaxRetries:  1,
		StoreInitBaseDelay:   time.Millisecond,
		AuditMaxEntries:      1000,
		MaxBodyBytes:         1 << 20,
		MetricsEnabled:       true,
		ConnectivityInterval: time.Minute,
	}
}

func newTestApp(t *testing.T, remoteURL string) (*agent.App, *httptest.Server) {
	t.Helper()
	app, err := agent.New(context.Background(), testConfig(remoteURL))
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	ts := httptest.NewServer(app.Router)
	t.Cleanup(ts.Close)
	return app, ts
}

func TestFeedbackSubmitSyncAndGovernanceJourney(t *testing.T) {
	remote := newFakeRemote(t)
	_, ts := newTestApp(t, remote.server.URL)
	client := ts.Client()

	// Submit a feedback entry while "offline" from the caller's view.
	submitBody := `{"payload":{"rating":5,"comment":"great care"},"contact":"patient@example.com","priority":"high"}`
	resp, err := client.Post(ts.URL+"/api/v1/feedback", "application/json", bytes.NewBufferString(submitBody))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := envelopeData(t, resp)
	itemID, _ := created["id"].(string)
	if itemID == "" {
		t.Fatal("expected a queued item id")
	}

	// The item sits in the local queue until a sync pass runs.
	resp, err = client.Get(ts.URL + "/api/v1/queue/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	status := envelopeData(t, resp)
	counts, _ := status["counts"].(map[string]any)
	if pending, _ := counts["pending"].(float64); pending != 1 {
		t.Fatalf("expected 1 pending item, got %v", counts)
	}
	if remote.count() != 0 {
		t.Fatal("expected nothing submitted before sync")
	}

	// Trigger a sync pass and verify the item reaches the remote.
	resp, err = client.Post(ts.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from sync, got %d", resp.StatusCode)
	}
	syncResult := envelopeData(t, resp)
	if synced, _ := syncResult["synced"].(float64); synced != 1 {
		t.Fatalf("expected 1 synced item, got %v", syncResult)
	}
	if remote.count() != 1 {
		t.Fatalf("expected remote to receive the item, got %d", remote.count())
	}

	// Clearing synced items empties the queue.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/queue/synced", nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("clear synced: %v", err)
	}
	cleared := envelopeData(t, resp)
	if removed, _ := cleared["removed"].(float64); removed != 1 {
		t.Fatalf("expected 1 removed, got %v", cleared)
	}

	// The submission, the export and the registration are all audited.
	resp, err = client.Get(ts.URL + "/api/v1/audit/events?resourceId=" + itemID)
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	events := envelopeDataSlice(t, resp)
	if len(events) < 2 {
		t.Fatalf("expected create and export audit events for %s, got %d", itemID, len(events))
	}

	// The feedback record is under retention governance.
	resp, err = client.Get(ts.URL + "/api/v1/retention/report")
	if err != nil {
		t.Fatalf("retention report: %v", err)
	}
	report := envelopeData(t, resp)
	if total, _ := report["totalRecords"].(float64); total != 1 {
		t.Fatalf("expected 1 governed record, got %v", report)
	}
	if score, _ := report["complianceScore"].(float64); score != 1.0 {
		t.Fatalf("expected clean compliance score, got %v", report)
	}

	// Metrics reflect the journey.
	resp, err = client.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metricsData := envelopeData(t, resp)
	if enqueued, _ := metricsData["enqueuedTotal"].(float64); enqueued != 1 {
		t.Fatalf("expected 1 enqueued in metrics, got %v", metricsData)
	}
	if synced, _ := metricsData["syncedTotal"].(float64); synced != 1 {
		t.Fatalf("expected 1 synced in metrics, got %v", metricsData)
	}
}

func TestSubmitValidation(t *testing.T) {
	remote := newFakeRemote(t)
	_, ts := newTestApp(t, remote.server.URL)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/api/v1/feedback", "application/json", bytes.NewBufferString(`{"priority":"urgent"}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad submission, got %d", resp.StatusCode)
	}
	var envelope struct {
		Success bool `json:"success"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	_ = resp.Body.Close()
	if envelope.Success || envelope.Error == nil || envelope.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error envelope, got %+v", envelope)
	}
}

func TestAuditVerifyEndpoint(t *testing.T) {
	remote := newFakeRemote(t)
	_, ts := newTestApp(t, remote.server.URL)
	client := ts.Client()

	if _, err := client.Post(ts.URL+"/api/v1/feedback", "application/json",
		bytes.NewBufferString(`{"payload":{"rating":3}}`)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := client.Get(ts.URL + "/api/v1/audit/verify")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	result := envelopeData(t, resp)
	if score, _ := result["integrityScore"].(float64); score != 1.0 {
		t.Fatalf("expected untampered trail to score 1.0, got %v", result)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	remote := newFakeRemote(t)
	_, ts := newTestApp(t, remote.server.URL)
	client := ts.Client()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/settings/theme", bytes.NewBufferString(`"dark"`))
	if err != nil {
		t.Fatalf("build put request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("put setting: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err = client.Get(ts.URL + "/api/v1/settings/theme")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	setting := envelopeData(t, resp)
	if value, _ := setting["value"].(string); value != "dark" {
		t.Fatalf("expected stored value, got %v", setting)
	}
}

func TestJobEndpointsTriggerAndListRuns(t *testing.T) {
	remote := newFakeRemote(t)
	_, ts := newTestApp(t, remote.server.URL)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/api/v1/jobs/cache_sweep/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from job run, got %d", resp.StatusCode)
	}
	result := envelopeData(t, resp)
	if jobType, _ := result["jobType"].(string); jobType != "cache_sweep" {
		t.Fatalf("expected cache_sweep run, got %v", result)
	}

	resp, err = client.Post(ts.URL+"/api/v1/jobs/defragment/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run unknown job: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job type, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err = client.Get(ts.URL + "/api/v1/jobs/runs")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	runs := envelopeDataSlice(t, resp)
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if status, _ := runs[0]["status"].(string); status != "completed" {
		t.Fatalf("expected completed run, got %v", runs[0])
	}
}

func envelopeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope.Data
}

func envelopeDataSlice(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Success bool             `json:"success"`
		Data    []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope.Data
}
