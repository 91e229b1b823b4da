// Package config loads and watches the relay configuration file.
//
// Top-level sections:
//   - pagerduty: request timeout (default 10s) and services, each with a
//     routing_key_env naming the variable that holds the integration key
//   - scrape: interval (default 30s), result_ttl (default 5m) and Prometheus
//     targets with auth/tls
//   - rules: threshold conditions on metric families, each bound to a
//     target and a service; severity defaults to warning, cooldown to 15m
//   - api: listen address (default ":8080") and API key auth
//
// Secrets are never stored in the file; *_env fields name environment
// variables that are resolved when the value is needed.
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on change using fsnotify.
package config
