// Package telemetry bootstraps the OpenTelemetry tracing pipeline the
// coordinator's spans are exported through.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zeromicro/go-zero/core/logx"
)

// SetupOTelSDK wires a stdout span exporter and registers it as the global
// tracer provider, returning a shutdown func to flush and release it.
func SetupOTelSDK(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(logWriter{}))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// logWriter routes the stdout exporter's JSON span payloads through logx
// instead of directly to stdout, keeping trace output alongside the rest
// of the runner's structured logs.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logx.Info(string(p))
	return len(p), nil
}
