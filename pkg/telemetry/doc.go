// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the enrolld daemon.
//
// Logging is built on zerolog. Metrics use a private Prometheus registry
// exposed through Handler. Tracing supports OTLP and stdout exporters with
// parent-based sampling. Recorder ties all three to the engine's run
// lifecycle.
package telemetry
