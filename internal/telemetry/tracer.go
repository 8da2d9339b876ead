// Package telemetry configures OpenTelemetry tracing with the X-Ray UDP exporter.
package telemetry

import (
	"context"
	"fmt"

	"github.com/aws-observability/aws-otel-go/exporters/xrayudp"
	lambdadetector "go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// NewTracerProvider installs the global tracer provider. Spans are only
// exported when enabled is set; otherwise they are recorded and dropped.
func NewTracerProvider(ctx context.Context, serviceName string, enabled bool) (*sdktrace.TracerProvider, error) {
	res, err := buildResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if enabled {
		exp, err := xrayudp.NewSpanExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot create xray udp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exp)))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(xray.Propagator{})

	return tp, nil
}

// buildResource merges the service attributes with Lambda attributes when the
// process runs inside a Lambda function (CI runners).
func buildResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	customResource := resource.NewWithAttributes(
		semconv.SchemaURL,
		attribute.KeyValue{Key: semconv.ServiceNameKey, Value: attribute.StringValue(serviceName)},
	)

	lambdaResource, err := lambdadetector.NewResourceDetector().Detect(ctx)
	if err != nil {
		// Not running on Lambda.
		return customResource, nil
	}

	mergedResource, err := resource.Merge(lambdaResource, customResource)
	if err != nil {
		return nil, fmt.Errorf("cannot merge otel resources: %w", err)
	}

	return mergedResource, nil
}
