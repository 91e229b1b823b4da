package api

import "github.com/obsidianstack/pdrelay/internal/alerts"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Rules        int    `json:"rules"`
	Services     int    `json:"services"`
	ActiveAlerts int    `json:"active_alerts"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// TargetResponse is one target in GET /api/v1/targets or
// GET /api/v1/targets/{id}. Families is only filled for a single target.
type TargetResponse struct {
	TargetID    string             `json:"target_id"`
	ScrapedAt   string             `json:"scraped_at"` // RFC3339
	FamilyCount int                `json:"family_count"`
	Error       string             `json:"error,omitempty"`
	Families    map[string]float64 `json:"families,omitempty"`
}

// TargetsResponse is the payload for GET /api/v1/targets.
type TargetsResponse struct {
	Targets []TargetResponse `json:"targets"`
}

// EventRequest is the body of POST /api/v1/events. Empty optional fields are
// left out of the PagerDuty event.
type EventRequest struct {
	Service       string            `json:"service"`
	Action        string            `json:"action"` // trigger (default) | resolve
	DedupKey      string            `json:"dedup_key"`
	Summary       string            `json:"summary"`
	Severity      string            `json:"severity"`
	Source        string            `json:"source"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component"`
	Group         string            `json:"group"`
	Class         string            `json:"class"`
	CustomDetails map[string]string `json:"custom_details"`
}

// EventResponse is the payload returned by POST /api/v1/events.
type EventResponse struct {
	Status    string `json:"status"` // sent | skipped
	RequestID string `json:"request_id"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error     string `json:"error"`
	Outcome   string `json:"outcome,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
