package pagerduty

import (
	"encoding/json"
	"os"
)

// Event actions understood by the Events API v2.
const (
	EventTrigger = "trigger"
	EventResolve = "resolve"
)

// DefaultSeverity is the payload severity of a freshly constructed Message.
const DefaultSeverity = "critical"

// Message is a single Events API v2 event. Build one with NewMessage and the
// chainable setters; every setter returns the receiver.
//
// Optional fields are tracked as pointers so that a field that was never set
// is omitted from the serialized form, while an explicitly empty value is kept.
type Message struct {
	action     string
	routingKey *string
	dedupKey   *string

	source    string
	severity  string
	summary   *string
	timestamp *string
	component *string
	group     *string
	class     *string
	details   *Details
}

// NewMessage returns a trigger event whose source is the local host name and
// whose severity is critical.
func NewMessage() *Message {
	return &Message{
		action:   EventTrigger,
		source:   hostname(),
		severity: DefaultSeverity,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// SetRoutingKey sets the integration routing key.
func (m *Message) SetRoutingKey(key string) *Message {
	m.routingKey = &key
	return m
}

// Resolve turns the event into a resolve event.
func (m *Message) Resolve() *Message {
	m.action = EventResolve
	return m
}

// SetDedupKey sets the top-level dedup_key that groups trigger and resolve
// events into one incident.
func (m *Message) SetDedupKey(key string) *Message {
	m.dedupKey = &key
	return m
}

// SetSummary sets the payload summary shown as the incident title.
func (m *Message) SetSummary(v string) *Message {
	m.summary = &v
	return m
}

// SetSource overrides the payload source, the host name by default.
func (m *Message) SetSource(v string) *Message {
	m.source = v
	return m
}

// SetSeverity overrides the payload severity, critical by default.
func (m *Message) SetSeverity(v string) *Message {
	m.severity = v
	return m
}

// SetTimestamp sets the payload timestamp. The value is passed through as is;
// PagerDuty expects ISO 8601.
func (m *Message) SetTimestamp(v string) *Message {
	m.timestamp = &v
	return m
}

// SetComponent sets the payload component.
func (m *Message) SetComponent(v string) *Message {
	m.component = &v
	return m
}

// SetGroup sets the payload group.
func (m *Message) SetGroup(v string) *Message {
	m.group = &v
	return m
}

// SetClass sets the payload class.
func (m *Message) SetClass(v string) *Message {
	m.class = &v
	return m
}

// AddCustomDetail stores key=value under payload.custom_details, creating the
// mapping on first use. A repeated key overwrites the earlier value.
func (m *Message) AddCustomDetail(key, value string) *Message {
	if m.details == nil {
		m.details = &Details{}
	}
	m.details.Set(key, value)
	return m
}

// EventAction returns "trigger" or "resolve".
func (m *Message) EventAction() string { return m.action }

// RoutingKey returns the routing key, or "" if none has been set.
func (m *Message) RoutingKey() string { return deref(m.routingKey) }

// DedupKey returns the dedup key, or "" if none has been set.
func (m *Message) DedupKey() string { return deref(m.dedupKey) }

// ToMap returns the event as a generic mapping: the meta keys plus a
// "payload" key holding the payload mapping. Unset fields are absent.
func (m *Message) ToMap() map[string]any {
	payload := map[string]any{
		"source":   m.source,
		"severity": m.severity,
	}
	putOpt(payload, "summary", m.summary)
	putOpt(payload, "timestamp", m.timestamp)
	putOpt(payload, "component", m.component)
	putOpt(payload, "group", m.group)
	putOpt(payload, "class", m.class)
	if m.details != nil {
		payload["custom_details"] = m.details.Map()
	}

	out := map[string]any{
		"event_action": m.action,
		"payload":      payload,
	}
	putOpt(out, "routing_key", m.routingKey)
	putOpt(out, "dedup_key", m.dedupKey)
	return out
}

type wireMessage struct {
	EventAction string      `json:"event_action"`
	RoutingKey  *string     `json:"routing_key,omitempty"`
	DedupKey    *string     `json:"dedup_key,omitempty"`
	Payload     wirePayload `json:"payload"`
}

type wirePayload struct {
	Source        string   `json:"source"`
	Severity      string   `json:"severity"`
	Summary       *string  `json:"summary,omitempty"`
	Timestamp     *string  `json:"timestamp,omitempty"`
	Component     *string  `json:"component,omitempty"`
	Group         *string  `json:"group,omitempty"`
	Class         *string  `json:"class,omitempty"`
	CustomDetails *Details `json:"custom_details,omitempty"`
}

// MarshalJSON encodes the event in the Events API v2 wire format with a
// fixed key order.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		EventAction: m.action,
		RoutingKey:  m.routingKey,
		DedupKey:    m.dedupKey,
		Payload: wirePayload{
			Source:        m.source,
			Severity:      m.severity,
			Summary:       m.summary,
			Timestamp:     m.timestamp,
			Component:     m.component,
			Group:         m.group,
			Class:         m.class,
			CustomDetails: m.details,
		},
	})
}

func putOpt(dst map[string]any, key string, v *string) {
	if v != nil {
		dst[key] = *v
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
