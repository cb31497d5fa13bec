// Package prometheus publishes opentoken engine metrics through
// client_golang.
//
// [PrometheusExporter] is a prometheus.Collector: register it with the
// application's registry, or mount [PrometheusExporter.Handler] to serve it
// alone. Counter names are prefixed opentoken_*_total; the single histogram
// is opentoken_authenticate_latency_seconds.
package prometheus
