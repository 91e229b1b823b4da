package alerts

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/obsidianstack/pdrelay/internal/config"
	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

// notification renders an Alert as a PagerDuty event. The dedup key ties the
// resolve event to the incident opened by the trigger.
type notification struct {
	alert Alert
}

func (n notification) ToPagerDuty(pagerduty.Notifiable) *pagerduty.Message {
	a := n.alert
	msg := pagerduty.NewMessage().
		SetDedupKey(a.DedupKey).
		SetSummary(a.Message).
		SetSource(a.TargetID).
		SetSeverity(a.Severity).
		SetTimestamp(a.FiredAt.UTC().Format(time.RFC3339)).
		AddCustomDetail("rule", a.RuleName).
		AddCustomDetail("condition", a.Condition).
		AddCustomDetail("value", strconv.FormatFloat(a.Value, 'f', -1, 64)).
		AddCustomDetail("alert_id", a.ID)

	if a.Component != "" {
		msg.SetComponent(a.Component)
	}
	if a.Group != "" {
		msg.SetGroup(a.Group)
	}
	if a.Class != "" {
		msg.SetClass(a.Class)
	}
	if a.State == StateResolved {
		msg.Resolve()
	}
	return msg
}

type delivery struct {
	alert *Alert
	svc   config.Service
}

// enqueue delivers a in the background, after any earlier event with the
// same dedup key. Wait blocks until it is done.
func (e *Engine) enqueue(a *Alert, svc config.Service) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	_, running := e.pending[a.DedupKey]
	e.pending[a.DedupKey] = append(e.pending[a.DedupKey], delivery{alert: a, svc: svc})
	if running {
		return
	}
	e.wg.Add(1)
	go e.drain(a.DedupKey)
}

// drain sends the pending events of key one at a time until none are left.
func (e *Engine) drain(key string) {
	defer e.wg.Done()
	for {
		e.pendingMu.Lock()
		queue := e.pending[key]
		if len(queue) == 0 {
			delete(e.pending, key)
			e.pendingMu.Unlock()
			return
		}
		next := queue[0]
		e.pending[key] = queue[1:]
		e.pendingMu.Unlock()

		e.deliver(next.alert, next.svc)
	}
}

// deliver sends the event for a to its service and records the outcome.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert, svc config.Service) {
	if svc.Name == "" {
		slog.Warn("alerts: unknown service, skipping delivery",
			"service", a.Service, "rule", a.RuleName)
		e.record(a, pagerduty.OutcomeSkipped, nil)
		return
	}

	e.mu.Lock()
	timeout := e.timeout
	e.mu.Unlock()
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome, err := e.sender.Dispatch(ctx, svc, notification{alert: *a})
	if err != nil {
		slog.Error("alerts: pagerduty delivery failed",
			"service", svc.Name,
			"rule", a.RuleName,
			"state", a.State,
			"outcome", outcome,
			"err", err,
		)
	} else {
		slog.Debug("alerts: pagerduty event delivered",
			"service", svc.Name,
			"rule", a.RuleName,
			"state", a.State,
			"outcome", outcome,
		)
	}
	e.record(a, outcome, err)
}

// record stores the delivery outcome on the stored alert with a's ID and state.
func (e *Engine) record(a *Alert, outcome pagerduty.Outcome, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored := e.find(a.ID)
	if stored == nil || stored.State != a.State {
		return
	}
	stored.Delivery = outcome
	stored.DeliveryError = ""
	if err != nil {
		stored.DeliveryError = err.Error()
	}
}

// find returns the stored alert with the given ID. e.mu must be held.
func (e *Engine) find(id string) *Alert {
	for _, a := range e.active {
		if a.ID == id {
			return a
		}
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i]
		}
	}
	return nil
}
