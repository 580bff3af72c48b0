// Package observability provides the responder's structured logging,
// Prometheus metrics and OpenTelemetry tracing.
//
// Logging is slog with a redacting handler that scrubs API keys and bot
// tokens and adds the event correlation fields carried by the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddEventID(ctx, uuid.NewString())
//	logger.InfoContext(ctx, "event received") // includes event_id
//
// Metrics are registered on a caller supplied registerer so tests can use
// an isolated registry. Tracing is a no-op unless an OTLP endpoint is
// configured.
package observability
