package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/pdrelay/internal/config"
	"github.com/obsidianstack/pdrelay/internal/scraper"
	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

const (
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	DedupKey   string     `json:"dedup_key"`
	RuleName   string     `json:"rule_name"`
	TargetID   string     `json:"target_id"`
	Service    string     `json:"service"`
	Condition  string     `json:"condition"`
	Severity   string     `json:"severity"`
	Component  string     `json:"component,omitempty"`
	Group      string     `json:"group,omitempty"`
	Class      string     `json:"class,omitempty"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`

	// Delivery is the pagerduty.Outcome of the most recent event sent for
	// this alert; empty while a delivery is in flight.
	Delivery      pagerduty.Outcome `json:"delivery,omitempty"`
	DeliveryError string            `json:"delivery_error,omitempty"`
}

// Sender delivers a notification; *pagerduty.Channel implements it.
type Sender interface {
	Dispatch(ctx context.Context, n pagerduty.Notifiable, notification pagerduty.Notification) (pagerduty.Outcome, error)
}

// Engine evaluates alert rules against scrape results and sends PagerDuty
// trigger and resolve events when rules fire or clear.
//
// Engine is safe for concurrent use.
type Engine struct {
	sender Sender

	mu       sync.Mutex
	rules    []config.AlertRule
	services map[string]config.Service
	timeout  time.Duration
	active   map[string]*Alert    // key: dedup key "rule:target"
	lastFire map[string]time.Time // last fire time per active key (for cooldown)
	history  []*Alert             // recently resolved alerts

	// pending holds undelivered events per dedup key. A key is present while
	// its drain goroutine runs, so events for one key are sent in order.
	pendingMu sync.Mutex
	pending   map[string][]delivery

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates an Engine from the relay configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg *config.Config, sender Sender) *Engine {
	e := &Engine{
		sender:   sender,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		pending:  make(map[string][]delivery),
		now:      time.Now,
	}
	e.apply(cfg)
	return e
}

func (e *Engine) apply(cfg *config.Config) {
	e.rules = cfg.Rules
	e.timeout = cfg.PagerDuty.Timeout
	e.services = make(map[string]config.Service, len(cfg.PagerDuty.Services))
	for _, s := range cfg.PagerDuty.Services {
		e.services[s.Name] = s
	}
}

// Reload swaps in the rules and services of cfg. Active alerts whose rule no
// longer exists are resolved.
func (e *Engine) Reload(cfg *config.Config) {
	e.mu.Lock()
	oldServices := e.services
	e.apply(cfg)

	keep := make(map[string]bool, len(e.rules))
	for _, r := range e.rules {
		keep[r.Name] = true
	}
	var orphans []*Alert
	for key, a := range e.active {
		if !keep[a.RuleName] {
			orphans = append(orphans, e.resolveLocked(key, a, e.now()))
		}
	}
	e.mu.Unlock()

	for _, a := range orphans {
		slog.Info("alert resolved: rule removed", "rule", a.RuleName, "target", a.TargetID)
		e.enqueue(a, oldServices[a.Service])
	}
}

// Evaluate tests every rule bound to res's target. Rules that fire produce an
// alert and a trigger event; active alerts whose condition cleared are
// resolved. Failed scrapes are ignored so an outage does not resolve alerts.
func (e *Engine) Evaluate(res *scraper.Result) {
	if res == nil || res.Err != nil {
		return
	}

	e.mu.Lock()
	rules := e.rules
	services := e.services
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		if rule.Target != res.TargetID {
			continue
		}
		key := rule.Name + ":" + res.TargetID
		fires, value := evalCondition(rule.Condition, res)

		e.mu.Lock()
		if fires {
			if now.Sub(e.lastFire[key]) <= rule.Cooldown {
				e.mu.Unlock()
				continue
			}
			a := &Alert{
				ID:        uuid.NewString(),
				DedupKey:  key,
				RuleName:  rule.Name,
				TargetID:  res.TargetID,
				Service:   rule.Service,
				Condition: rule.Condition,
				Severity:  rule.Severity,
				Component: rule.Component,
				Group:     rule.Group,
				Class:     rule.Class,
				Value:     value,
				Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
					rule.Severity, rule.Name, res.TargetID, rule.Condition, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			alertCopy := *a
			e.mu.Unlock()

			slog.Warn("alert fired",
				"rule", rule.Name,
				"target", res.TargetID,
				"value", value,
				"severity", rule.Severity,
			)
			e.enqueue(&alertCopy, services[rule.Service])
			continue
		}

		a, ok := e.active[key]
		if !ok {
			e.mu.Unlock()
			continue
		}
		alertCopy := e.resolveLocked(key, a, now)
		e.mu.Unlock()

		slog.Info("alert resolved", "rule", rule.Name, "target", res.TargetID)
		e.enqueue(alertCopy, services[rule.Service])
	}
}

// resolveLocked moves an active alert to history and returns a copy. The
// cooldown ends with the alert, so a condition that returns fires at once.
// e.mu must be held.
func (e *Engine) resolveLocked(key string, a *Alert, now time.Time) *Alert {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.Delivery, a.DeliveryError = "", ""
	delete(e.active, key)
	delete(e.lastFire, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	return &alertCopy
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return latest(out[i]).After(latest(out[j]))
	})
	return out
}

func latest(a *Alert) time.Time {
	if a.ResolvedAt != nil {
		return *a.ResolvedAt
	}
	return a.FiredAt
}

// Stats returns the number of rules, services and firing alerts.
func (e *Engine) Stats() (rules, services, firing int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules), len(e.services), len(e.active)
}

// Wait blocks until all in-flight deliveries have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
