// Package api implements the relay's HTTP API.
//
// New returns an http.Handler (a chi router) that serves:
//
//	GET  /api/v1/health  rule, service and firing alert counts (no auth)
//	GET  /api/v1/alerts  firing and recently resolved alerts
//	GET  /api/v1/targets  latest scrape per target; /{id} adds family values
//	POST /api/v1/events  send a trigger or resolve event to a service
//
// POST /api/v1/events maps the delivery outcome to a status code: 202 when
// PagerDuty accepted the event, 200 when the service has no routing key,
// 422 for a rejected event, 429 when rate limited and 502 otherwise.
//
// When auth mode is "apikey", every route except health requires the key in
// the configured header. All responses are JSON.
package api
