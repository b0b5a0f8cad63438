// Package prometheus exposes engine counters through a client_golang
// Collector. Values are read from Engine.MetricsSnapshot at scrape time, so
// the engine's hot path never touches Prometheus types.
package prometheus
