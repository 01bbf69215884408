package telemetry

import (
	"context"
	"io"
	stdhttp "net/http"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Settings controls tracer setup.
type Settings struct {
	Enabled     bool
	ServiceName string
	Environment string
	// Writer receives exported spans. Defaults to stdout.
	Writer io.Writer
}

// InitTracer installs a global tracer provider exporting spans to stdout.
// When tracing is disabled it returns a no-op shutdown.
func InitTracer(settings Settings, logger *logrus.Logger) (ShutdownFunc, error) {
	if !settings.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []stdouttrace.Option{}
	if settings.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(settings.Writer))
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "creating stdout trace exporter")
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(settings.ServiceName),
			semconv.DeploymentEnvironment(settings.Environment),
		),
	)
	if err != nil {
		return nil, eris.Wrap(err, "building trace resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.WithField("service", settings.ServiceName).Info("tracing enabled")
	}

	return tp.Shutdown, nil
}

// WrapHandler instruments next with a server span per request.
func WrapHandler(next stdhttp.Handler, operation string) stdhttp.Handler {
	return otelhttp.NewHandler(next, operation)
}
