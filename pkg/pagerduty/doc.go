// Package pagerduty is a notification channel for the PagerDuty Events API v2.
//
// A Message is built with NewMessage and its chainable setters:
//
//	msg := pagerduty.NewMessage().
//		SetSummary("disk almost full").
//		SetComponent("db-01").
//		AddCustomDetail("free", "3%")
//
// Channel.Send asks a Notifiable for its routing key, asks the Notification
// for a Message, posts it to EnqueueURL through a Transport and classifies the
// response:
//
//   - 200, 201, 202: nil
//   - 400: *APIError (ErrBadRequest) with the message and errors from the body
//   - 429: *APIError (ErrRateLimited)
//   - anything else: *APIError (ErrUnexpectedStatus)
//
// Failures before a response is obtained are returned as *TransportError,
// which unwraps to the original cause. A Notifiable without a routing key is
// skipped silently. The channel never retries.
package pagerduty
