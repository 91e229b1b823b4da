package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/obsidianstack/pdrelay/internal/alerts"
	"github.com/obsidianstack/pdrelay/internal/config"
	"github.com/obsidianstack/pdrelay/internal/store"
	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

const maxEventBody = 64 << 10

// AlertSource is the part of the alerts engine the API reads.
type AlertSource interface {
	Active() []*alerts.Alert
	Stats() (rules, services, firing int)
}

// TargetSource lists the latest scrape result per target.
type TargetSource interface {
	List() []*store.Entry
}

// Dispatcher delivers one notification; *pagerduty.Channel implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, n pagerduty.Notifiable, notification pagerduty.Notification) (pagerduty.Outcome, error)
}

// ServiceLookup resolves a configured PagerDuty service by name.
type ServiceLookup func(name string) (config.Service, bool)

// Auth configures API key authentication for everything but /api/v1/health.
type Auth struct {
	Mode   string
	Header string
	Key    string
}

// Deps are the collaborators the API reads from and sends through.
type Deps struct {
	Alerts   AlertSource
	Targets  TargetSource
	Services ServiceLookup
	Sender   Dispatcher
	Auth     Auth
}

// Handler serves the relay's /api/v1 endpoints.
type Handler struct {
	alerts   AlertSource
	targets  TargetSource
	services ServiceLookup
	sender   Dispatcher
	router   chi.Router
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{alerts: d.Alerts, targets: d.Targets, services: d.Services, sender: d.Sender}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})

	r.Get("/api/v1/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(d.Auth.Mode, d.Auth.Header, d.Auth.Key))
		r.Get("/api/v1/alerts", h.listAlerts)
		r.Get("/api/v1/targets", h.listTargets)
		r.Get("/api/v1/targets/{id}", h.getTarget)
		r.Post("/api/v1/events", h.enqueueEvent)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: rule, service and firing alert counts.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	rules, services, firing := h.alerts.Stats()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Rules:        rules,
		Services:     services,
		ActiveAlerts: firing,
	})
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: h.alerts.Active()})
}

// listTargets returns GET /api/v1/targets: the latest scrape of each target.
func (h *Handler) listTargets(w http.ResponseWriter, _ *http.Request) {
	entries := h.targets.List()
	out := make([]TargetResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTargetResponse(e, false))
	}
	jsonResp(w, http.StatusOK, TargetsResponse{Targets: out})
}

// getTarget returns GET /api/v1/targets/{id} including every family value;
// 404 if the target is unknown or its last scrape is stale.
func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, e := range h.targets.List() {
		if e.Result.TargetID == id {
			jsonResp(w, http.StatusOK, toTargetResponse(e, true))
			return
		}
	}
	jsonErr(w, http.StatusNotFound, errorResponse{Error: "target not found: " + id})
}

// enqueueEvent handles POST /api/v1/events: builds a PagerDuty event from the
// request body and sends it to the named service.
func (h *Handler) enqueueEvent(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()

	var req EventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), RequestID: reqID})
		return
	}
	if msg := validateEvent(req); msg != "" {
		jsonErr(w, http.StatusBadRequest, errorResponse{Error: msg, RequestID: reqID})
		return
	}

	svc, ok := h.services(req.Service)
	if !ok {
		jsonErr(w, http.StatusNotFound, errorResponse{Error: "unknown service " + req.Service, RequestID: reqID})
		return
	}

	outcome, err := h.sender.Dispatch(r.Context(), svc, eventNotification(req))
	log := slog.With("request_id", reqID, "service", svc.Name, "outcome", outcome)
	if err != nil {
		log.Error("api: event delivery failed", "err", err)
		jsonErr(w, statusFor(err), errorResponse{Error: err.Error(), Outcome: string(outcome), RequestID: reqID})
		return
	}

	if outcome == pagerduty.OutcomeSkipped {
		log.Warn("api: service has no routing key, event skipped")
		jsonResp(w, http.StatusOK, EventResponse{Status: string(outcome), RequestID: reqID})
		return
	}
	log.Info("api: event sent", "action", actionOf(req))
	jsonResp(w, http.StatusAccepted, EventResponse{Status: string(outcome), RequestID: reqID})
}

// --- helpers ----------------------------------------------------------------

func validateEvent(req EventRequest) string {
	if req.Service == "" {
		return "service is required"
	}
	switch actionOf(req) {
	case pagerduty.EventTrigger:
		if req.Summary == "" {
			return "summary is required for trigger events"
		}
	case pagerduty.EventResolve:
		if req.DedupKey == "" {
			return "dedup_key is required for resolve events"
		}
	default:
		return "action must be trigger or resolve"
	}
	if req.Severity != "" && !config.ValidSeverity(req.Severity) {
		return "severity must be one of critical|error|warning|info"
	}
	return ""
}

func actionOf(req EventRequest) string {
	if req.Action == "" {
		return pagerduty.EventTrigger
	}
	return req.Action
}

// eventNotification renders an EventRequest as a PagerDuty notification.
func eventNotification(req EventRequest) pagerduty.Notification {
	return pagerduty.NotificationFunc(func(pagerduty.Notifiable) *pagerduty.Message {
		msg := pagerduty.NewMessage()
		if actionOf(req) == pagerduty.EventResolve {
			msg.Resolve()
		}
		setIf(req.DedupKey, msg.SetDedupKey)
		setIf(req.Summary, msg.SetSummary)
		setIf(req.Severity, msg.SetSeverity)
		setIf(req.Source, msg.SetSource)
		setIf(req.Timestamp, msg.SetTimestamp)
		setIf(req.Component, msg.SetComponent)
		setIf(req.Group, msg.SetGroup)
		setIf(req.Class, msg.SetClass)

		keys := make([]string, 0, len(req.CustomDetails))
		for k := range req.CustomDetails {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg.AddCustomDetail(k, req.CustomDetails[k])
		}
		return msg
	})
}

func toTargetResponse(e *store.Entry, withFamilies bool) TargetResponse {
	resp := TargetResponse{
		TargetID:    e.Result.TargetID,
		ScrapedAt:   e.Result.ScrapedAt.UTC().Format(time.RFC3339),
		FamilyCount: len(e.Result.Families),
	}
	if e.Result.Err != nil {
		resp.Error = e.Result.Err.Error()
	}
	if withFamilies {
		resp.Families = e.Result.Families
	}
	return resp
}

func setIf(v string, set func(string) *pagerduty.Message) {
	if v != "" {
		set(v)
	}
}

// statusFor maps a delivery error to the HTTP status returned to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pagerduty.ErrBadRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pagerduty.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, body errorResponse) {
	jsonResp(w, code, body)
}
