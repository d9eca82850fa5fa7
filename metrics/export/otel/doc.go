// Package otel bridges authcore engine metrics into an OpenTelemetry Meter.
//
// Every counter becomes an Int64ObservableCounter. The latency histogram is
// exposed as one cumulative bucket gauge carrying an "le" attribute plus a
// count gauge, all fed from a single callback that reads
// [authcore.Engine.MetricsSnapshot] at collection time.
//
// The caller owns the MeterProvider; this package only registers
// instruments and a callback, which [Exporter.Close] removes.
package otel
