// Package store keeps the latest scrape result per target in memory so the
// API can report what the relay last saw. Entries older than the TTL are
// hidden from List and removed by the Run eviction loop.
package store
