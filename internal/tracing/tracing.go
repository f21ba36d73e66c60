// Package tracing настраивает OpenTelemetry для сервиса.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultEndpoint задаёт адрес OTLP-коллектора по умолчанию.
const DefaultEndpoint = "localhost:4317"

// Config задаёт параметры экспорта трасс.
type Config struct {
	ServiceName string
	Enabled     bool
	Endpoint    string
	Insecure    bool
}

// Init создаёт OTLP/gRPC-экспортёр, регистрирует глобальный TracerProvider
// и возвращает функцию его остановки. Выключенная трассировка ничего не регистрирует.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	return Install(cfg.ServiceName, exp).Shutdown, nil
}

// Install регистрирует глобальный TracerProvider с пакетной отправкой в exporters
// и W3C-пропагатор trace context.
func Install(serviceName string, exporters ...sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	}
	for _, exp := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp
}

// Tracer возвращает именованный трассировщик из глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer("github.com/neo1415/salvage-management-system-sub002/" + name)
}
