// Package prometheus exposes engine metrics through client_golang.
//
// [NewCollector] wraps an Engine as a prometheus.Collector that reads
// Engine.MetricsSnapshot on every scrape. Counters are named
// gosession_*_total; the Authenticate and rotation latency histograms are
// gosession_*_latency_seconds.
//
// The collector is never registered globally. Register it on your own
// registry or mount [Handler], which uses a private one.
package prometheus
