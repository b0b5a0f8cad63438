// Package otel registers OpenTelemetry observable instruments for the engine
// counters. One callback reads Engine.MetricsSnapshot per collection cycle;
// callers own the MeterProvider.
package otel
