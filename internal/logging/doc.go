// Package logging provides structured logging for devcoord.
//
// Logger wraps Zap and writes to stderr (stdout carries command results),
// optionally teeing into OpenTelemetry through the otelzap bridge.
// Entries pick up trace ids and the current Invocation from context:
//
//	ctx = logging.WithInvocation(ctx, logging.Invocation{Surface: "cli", Milestone: "m7"})
//	logger.Info(ctx, "rendered", zap.Int("events", n))
//
// Services take the underlying *zap.Logger via Underlying.
package logging
