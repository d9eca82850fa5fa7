// Package prometheus renders authcore engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authcore_*_total; the only histogram is
// authcore_authenticate_latency_seconds. Nothing is registered globally;
// callers mount [Exporter.Handler] on their own mux.
package prometheus
