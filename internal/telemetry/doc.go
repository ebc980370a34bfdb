// Package telemetry sets up OpenTelemetry tracing and metrics for patternd.
//
// New installs global TracerProvider and MeterProvider instances exporting
// over OTLP (gRPC or HTTP). Packages that instrument themselves call
// otel.Tracer / otel.Meter with their own instrumentation name, so they
// work unchanged whether telemetry is enabled or not. Export failures
// degrade telemetry and never stop the service.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
