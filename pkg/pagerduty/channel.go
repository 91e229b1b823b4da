package pagerduty

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ChannelName is the name a Notifiable is asked to route for.
const ChannelName = "PagerDuty"

// EnqueueURL is the Events API v2 endpoint every event is posted to.
const EnqueueURL = "https://events.pagerduty.com/v2/enqueue"

// Notifiable is a notification target that may have a PagerDuty routing key.
type Notifiable interface {
	// RouteNotificationFor returns the routing destination for channel, or ""
	// if the target does not receive notifications on that channel.
	RouteNotificationFor(channel string) string
}

// Notification produces the event to send for a Notifiable.
type Notification interface {
	ToPagerDuty(n Notifiable) *Message
}

// RouteFunc adapts a function to the Notifiable interface.
type RouteFunc func(channel string) string

func (f RouteFunc) RouteNotificationFor(channel string) string { return f(channel) }

// NotificationFunc adapts a function to the Notification interface.
type NotificationFunc func(n Notifiable) *Message

func (f NotificationFunc) ToPagerDuty(n Notifiable) *Message { return f(n) }

// Channel delivers notifications to the Events API v2.
//
// Channel keeps no state between sends and is safe for concurrent use if its
// Transport is.
type Channel struct {
	transport Transport
}

// NewChannel returns a Channel that posts through t.
func NewChannel(t Transport) *Channel {
	return &Channel{transport: t}
}

// Send delivers notification to notifiable. A target without a routing key is
// skipped and Send returns nil without making a request.
//
// Errors are *TransportError when no response was obtained and *APIError when
// PagerDuty rejected the event. Send never retries.
func (c *Channel) Send(ctx context.Context, notifiable Notifiable, notification Notification) error {
	_, err := c.Dispatch(ctx, notifiable, notification)
	return err
}

// Dispatch is Send that also reports the outcome, so callers can tell a
// skipped notification from a delivered one.
func (c *Channel) Dispatch(ctx context.Context, notifiable Notifiable, notification Notification) (Outcome, error) {
	routingKey := notifiable.RouteNotificationFor(ChannelName)
	if routingKey == "" {
		slog.Debug("pagerduty: no routing key, skipping notification")
		return OutcomeSkipped, nil
	}

	msg := notification.ToPagerDuty(notifiable)
	if msg == nil {
		slog.Debug("pagerduty: notification produced no message, skipping")
		return OutcomeSkipped, nil
	}
	msg.SetRoutingKey(routingKey)

	body, err := json.Marshal(msg)
	if err != nil {
		return OutcomeTransportFailure, &TransportError{Err: err}
	}

	resp, err := c.transport.Post(ctx, EnqueueURL, body)
	if err != nil {
		return OutcomeTransportFailure, &TransportError{Err: err}
	}

	if err := HandleResponse(resp); err != nil {
		return OutcomeOf(err), err
	}

	slog.Debug("pagerduty: event enqueued",
		"action", msg.EventAction(),
		"dedup_key", msg.DedupKey(),
		"status", resp.StatusCode(),
	)
	return OutcomeSent, nil
}

// HandleResponse maps an Events API response to nil or an *APIError.
// Only 200, 201 and 202 count as success.
func HandleResponse(resp Response) error {
	switch code := resp.StatusCode(); code {
	case 200, 201, 202:
		return nil
	case 400:
		return badRequestError(resp.Body())
	case 429:
		return rateLimitError()
	default:
		return unknownStatusError(code)
	}
}
