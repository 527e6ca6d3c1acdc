// Package telemetry wires the OpenTelemetry tracer provider. Tracing is
// opt-in via OTEL_ENABLED and exports over OTLP/HTTP when an endpoint is
// configured.
package telemetry

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/joelkehle/patent-insight"

type Config struct {
	ServiceName string
	Version     string
}

var (
	initOnce sync.Once
	shutdown func(context.Context) error
)

// Tracer returns the process tracer. Safe to call before Init; spans are
// no-ops until a provider is installed.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Init installs the global tracer provider and returns a shutdown func
// (nil when tracing is disabled). Failures are logged and never fatal.
func Init(ctx context.Context, cfg Config) func(context.Context) error {
	initOnce.Do(func() {
		if !enabled() {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "patent-insight"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("service.component", serviceName),
		))
		if err != nil {
			log.Printf("patent-insight otel_resource_error err=%q", err.Error())
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
			sdktrace.WithResource(res),
		}
		if endpoint() != "" {
			exporter, expErr := otlptracehttp.New(ctx, exporterOptions()...)
			if expErr != nil {
				log.Printf("patent-insight otel_exporter_error err=%q", expErr.Error())
			} else {
				opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
			}
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		log.Printf("patent-insight otel_initialized service=%s endpoint=%s", serviceName, endpoint())
	})
	return shutdown
}

func enabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("OTEL_ENABLED"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func sampleRatio() float64 {
	v := strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO"))
	if v == "" {
		return 1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 1
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func endpoint() string {
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func exporterOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint())}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))); v == "1" || v == "true" || v == "yes" || v == "on" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}
