// Package telemetry wires OpenTelemetry tracing and metrics export.
//
// Telemetry is off by default. When enabled, New installs OTLP trace and
// metric providers (gRPC or HTTP) as the global providers; failures
// degrade to no-op instrumentation instead of failing the command.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// NewTestTelemetry gives tests in-memory span and metric readers.
package telemetry
