// Package otel binds engine metrics to OpenTelemetry observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per cumulative histogram bucket. A single
// callback reads Engine.MetricsSnapshot on every collection.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
