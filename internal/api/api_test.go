package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/pdrelay/internal/alerts"
	"github.com/obsidianstack/pdrelay/internal/api"
	"github.com/obsidianstack/pdrelay/internal/config"
	"github.com/obsidianstack/pdrelay/internal/scraper"
	"github.com/obsidianstack/pdrelay/internal/store"
	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

// --- test helpers -----------------------------------------------------------

type fakeAlerts struct {
	list []*alerts.Alert
}

func (f *fakeAlerts) Active() []*alerts.Alert { return f.list }
func (f *fakeAlerts) Stats() (int, int, int)  { return 3, 2, len(f.list) }

// transport records the last posted body and answers with a fixed status.
type transport struct {
	status int
	body   string
	err    error
	posted string
	calls  int
}

func (t *transport) Post(_ context.Context, _ string, body []byte) (pagerduty.Response, error) {
	t.calls++
	t.posted = string(body)
	if t.err != nil {
		return nil, t.err
	}
	return &pagerduty.HTTPResponse{Status: t.status, Content: []byte(t.body)}, nil
}

func lookup(name string) (config.Service, bool) {
	switch name {
	case "payments":
		return config.Service{Name: "payments", RoutingKeyEnv: "TEST_API_ROUTING_KEY"}, true
	case "unrouted":
		return config.Service{Name: "unrouted", RoutingKeyEnv: "TEST_API_UNSET_KEY"}, true
	}
	return config.Service{}, false
}

func newHandler(t *testing.T, tr *transport, auth api.Auth) http.Handler {
	t.Helper()
	t.Setenv("TEST_API_ROUTING_KEY", "R0UT1NG")
	fired := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	src := &fakeAlerts{list: []*alerts.Alert{{
		ID: "a1", DedupKey: "drops:prom-main", RuleName: "drops", TargetID: "prom-main",
		Severity: "error", State: alerts.StateFiring, FiredAt: fired,
	}}}
	results := store.New(5 * time.Minute)
	results.Put(&scraper.Result{
		TargetID:  "prom-main",
		ScrapedAt: fired,
		Families:  map[string]float64{"up": 1, "prometheus_remote_storage_samples_dropped_total": 250},
	})
	results.Put(&scraper.Result{
		TargetID:  "prom-edge",
		ScrapedAt: fired,
		Families:  map[string]float64{},
		Err:       errors.New("scrape \"prom-edge\": connection refused"),
	})
	return api.New(api.Deps{
		Alerts:   src,
		Targets:  results,
		Services: lookup,
		Sender:   pagerduty.NewChannel(tr),
		Auth:     auth,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health and /api/v1/alerts --------------------------------------

func TestHealth(t *testing.T) {
	h := newHandler(t, &transport{status: 202}, api.Auth{})
	rr := do(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Rules != 3 || resp.Services != 2 || resp.ActiveAlerts != 1 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestAlerts_List(t *testing.T) {
	h := newHandler(t, &transport{status: 202}, api.Auth{})
	rr := do(t, h, http.MethodGet, "/api/v1/alerts", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q", ct)
	}
	var resp struct {
		Alerts []map[string]interface{} `json:"alerts"`
	}
	decode(t, rr, &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0]["dedup_key"] != "drops:prom-main" {
		t.Errorf("alerts: got %v", resp.Alerts)
	}
}

func TestTargets_List(t *testing.T) {
	h := newHandler(t, &transport{}, api.Auth{})
	rr := do(t, h, http.MethodGet, "/api/v1/targets", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.TargetsResponse
	decode(t, rr, &resp)
	if len(resp.Targets) != 2 {
		t.Fatalf("targets: got %d, want 2", len(resp.Targets))
	}

	edge, primary := resp.Targets[0], resp.Targets[1]
	if edge.TargetID != "prom-edge" || primary.TargetID != "prom-main" {
		t.Fatalf("order: got %q, %q", edge.TargetID, primary.TargetID)
	}
	if !strings.Contains(edge.Error, "connection refused") {
		t.Errorf("prom-edge error: got %q", edge.Error)
	}
	if primary.FamilyCount != 2 || primary.Families != nil {
		t.Errorf("prom-main: family_count=%d families=%v, want 2 and no values", primary.FamilyCount, primary.Families)
	}
	if primary.ScrapedAt != "2026-10-17T12:00:00Z" {
		t.Errorf("scraped_at: got %q", primary.ScrapedAt)
	}
}

func TestTargets_Get(t *testing.T) {
	h := newHandler(t, &transport{}, api.Auth{})

	rr := do(t, h, http.MethodGet, "/api/v1/targets/prom-main", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.TargetResponse
	decode(t, rr, &resp)
	if got := resp.Families["prometheus_remote_storage_samples_dropped_total"]; got != 250 {
		t.Errorf("dropped_total: got %v, want 250", got)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/targets/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown target status: got %d, want 404", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(t, &transport{status: 202}, api.Auth{})
	rr := do(t, h, http.MethodDelete, "/api/v1/health", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/events ---------------------------------------------------------

func TestEvents_Trigger(t *testing.T) {
	tr := &transport{status: 202, body: `{"status":"success"}`}
	h := newHandler(t, tr, api.Auth{})

	rr := do(t, h, http.MethodPost, "/api/v1/events", `{
		"service": "payments",
		"summary": "disk almost full",
		"source": "db-01",
		"severity": "warning",
		"dedup_key": "disk:db-01",
		"custom_details": {"free": "3%", "disk": "/dev/sda1"}
	}`, nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.EventResponse
	decode(t, rr, &resp)
	if resp.Status != "sent" || resp.RequestID == "" {
		t.Errorf("response: got %+v", resp)
	}

	want := `{"event_action":"trigger","routing_key":"R0UT1NG","dedup_key":"disk:db-01","payload":{"source":"db-01","severity":"warning","summary":"disk almost full","custom_details":{"disk":"/dev/sda1","free":"3%"}}}`
	if tr.posted != want {
		t.Errorf("posted:\n got %s\nwant %s", tr.posted, want)
	}
}

func TestEvents_Resolve(t *testing.T) {
	tr := &transport{status: 202}
	h := newHandler(t, tr, api.Auth{})

	rr := do(t, h, http.MethodPost, "/api/v1/events",
		`{"service":"payments","action":"resolve","dedup_key":"disk:db-01","source":"db-01"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body %s)", rr.Code, rr.Body.String())
	}
	want := `{"event_action":"resolve","routing_key":"R0UT1NG","dedup_key":"disk:db-01","payload":{"source":"db-01","severity":"critical"}}`
	if tr.posted != want {
		t.Errorf("posted:\n got %s\nwant %s", tr.posted, want)
	}
}

func TestEvents_Skipped(t *testing.T) {
	tr := &transport{status: 202}
	h := newHandler(t, tr, api.Auth{})

	rr := do(t, h, http.MethodPost, "/api/v1/events", `{"service":"unrouted","summary":"x"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.EventResponse
	decode(t, rr, &resp)
	if resp.Status != "skipped" {
		t.Errorf("status field: got %q, want skipped", resp.Status)
	}
	if tr.calls != 0 {
		t.Errorf("transport calls: got %d, want 0", tr.calls)
	}
}

func TestEvents_RequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown field", `{"service":"payments","summary":"x","colour":"red"}`, http.StatusBadRequest},
		{"missing service", `{"summary":"x"}`, http.StatusBadRequest},
		{"missing summary", `{"service":"payments"}`, http.StatusBadRequest},
		{"resolve without dedup", `{"service":"payments","action":"resolve"}`, http.StatusBadRequest},
		{"bad action", `{"service":"payments","action":"acknowledge","summary":"x"}`, http.StatusBadRequest},
		{"bad severity", `{"service":"payments","summary":"x","severity":"fatal"}`, http.StatusBadRequest},
		{"unknown service", `{"service":"billing","summary":"x"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := &transport{status: 202}
			h := newHandler(t, tr, api.Auth{})
			rr := do(t, h, http.MethodPost, "/api/v1/events", tc.body, nil)
			if rr.Code != tc.code {
				t.Errorf("status: got %d, want %d (body %s)", rr.Code, tc.code, rr.Body.String())
			}
			if tr.calls != 0 {
				t.Errorf("transport calls: got %d, want 0", tr.calls)
			}
		})
	}
}

func TestEvents_DeliveryErrors(t *testing.T) {
	tests := []struct {
		name    string
		tr      *transport
		code    int
		outcome string
		msg     string
	}{
		{
			"bad request",
			&transport{status: 400, body: `{"message":"Event object is invalid","errors":["a","b"]}`},
			http.StatusUnprocessableEntity, "bad_request",
			"PagerDuty returned 400 Bad Request: Event object is invalid - a,b",
		},
		{
			"rate limited",
			&transport{status: 429},
			http.StatusTooManyRequests, "rate_limited",
			"PagerDuty returned 429 Too Many Requests",
		},
		{
			"unknown status",
			&transport{status: 503},
			http.StatusBadGateway, "unknown_status",
			"PagerDuty responded with an unexpected HTTP Status: 503",
		},
		{
			"transport failure",
			&transport{err: errors.New("Test Exception")},
			http.StatusBadGateway, "transport_failure",
			"Cannot send message to PagerDuty: Test Exception",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(t, tc.tr, api.Auth{})
			rr := do(t, h, http.MethodPost, "/api/v1/events", `{"service":"payments","summary":"x"}`, nil)
			if rr.Code != tc.code {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.code)
			}
			var resp map[string]string
			decode(t, rr, &resp)
			if resp["error"] != tc.msg {
				t.Errorf("error: got %q, want %q", resp["error"], tc.msg)
			}
			if resp["outcome"] != tc.outcome {
				t.Errorf("outcome: got %q, want %q", resp["outcome"], tc.outcome)
			}
		})
	}
}

// --- auth -------------------------------------------------------------------

func TestAuth_APIKey(t *testing.T) {
	auth := api.Auth{Mode: "apikey", Header: "x-api-key", Key: "supersecret"}
	h := newHandler(t, &transport{status: 202}, auth)

	if rr := do(t, h, http.MethodGet, "/api/v1/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("health without key: got %d, want 200", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/alerts", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("alerts without key: got %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/targets", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("targets without key: got %d, want 401", rr.Code)
	}
	bad := map[string]string{"x-api-key": "wrong"}
	if rr := do(t, h, http.MethodGet, "/api/v1/alerts", "", bad); rr.Code != http.StatusUnauthorized {
		t.Errorf("alerts with wrong key: got %d, want 401", rr.Code)
	}
	good := map[string]string{"x-api-key": "supersecret"}
	if rr := do(t, h, http.MethodGet, "/api/v1/alerts", "", good); rr.Code != http.StatusOK {
		t.Errorf("alerts with key: got %d, want 200", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/events", `{"service":"payments","summary":"x"}`, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("events without key: got %d, want 401", rr.Code)
	}
}

func TestAuth_PassThrough(t *testing.T) {
	for _, auth := range []api.Auth{
		{Mode: "none", Header: "x-api-key", Key: "k"},
		{Mode: "apikey", Header: "x-api-key", Key: ""},
	} {
		h := newHandler(t, &transport{status: 202}, auth)
		if rr := do(t, h, http.MethodGet, "/api/v1/alerts", "", nil); rr.Code != http.StatusOK {
			t.Errorf("auth %+v: got %d, want 200", auth, rr.Code)
		}
	}
}
