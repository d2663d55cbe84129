// Package telemetry configures the OpenTelemetry metrics pipeline.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/finbrook/tradewire/config"
)

// Providers groups telemetry provider handles.
type Providers struct {
	MeterProvider apimetric.MeterProvider
}

// Init configures the OTLP metric exporter based on the provided
// configuration. An empty endpoint yields noop providers.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Providers, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "tradewire"
	}

	if endpoint == "" || !cfg.EnableMetrics {
		noopProviders := Providers{MeterProvider: noop.NewMeterProvider()}
		otel.SetMeterProvider(noopProviders.MeterProvider)
		return noopProviders, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return Providers{}, nil, err
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure || cfg.OTLPInsecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	providers := Providers{MeterProvider: mp}
	return providers, mp.Shutdown, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
