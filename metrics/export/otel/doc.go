// Package otel binds opentoken engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter
// and, for the authenticate latency histogram, a cumulative bucket gauge
// keyed by an "le" attribute plus a count gauge. A single callback reads the
// engine snapshot on each collection cycle. The caller owns the
// MeterProvider.
package otel
