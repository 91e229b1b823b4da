// Package alerts implements the rule evaluation engine and PagerDuty delivery
// for the relay. Rules are evaluated against scrape results; when a rule fires
// a trigger event is sent to the rule's service, and when it clears a resolve
// event with the same dedup key closes the incident.
package alerts
