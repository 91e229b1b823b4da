// Package scraper polls Prometheus text-exposition endpoints for the alert
// rules. Each scrape returns a Result holding the summed value of every metric
// family; rule conditions are evaluated against those sums.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the shared
// authRoundTripper in base.go.
package scraper
