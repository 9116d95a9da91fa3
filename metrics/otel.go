// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/absmach/overload/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultExportTimeout = 30 * time.Second
	gzipCompressor       = "gzip"
)

// pipelines collects the shutdown hooks of every registered provider.
type pipelines struct {
	stops []func(context.Context) error
}

// InitProvider registers global OTLP meter and tracer providers for one
// consumer run. The returned function flushes and stops them in reverse
// order of registration.
func InitProvider(ctx context.Context, cfg config.MetricsConfig, instanceID string) (func(context.Context) error, error) {
	res, err := newResource(ctx, cfg, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &pipelines{}
	if cfg.TracesEnabled {
		if err := p.startTraces(ctx, cfg, res); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to initialize tracer provider: %w", err), p.shutdown(ctx))
		}
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if err := p.startMetrics(ctx, cfg, res); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize meter provider: %w", err), p.shutdown(ctx))
	}

	return p.shutdown, nil
}

func newResource(ctx context.Context, cfg config.MetricsConfig, instanceID string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(instanceID),
		),
	)
}

func (p *pipelines) startTraces(ctx context.Context, cfg config.MetricsConfig, res *resource.Resource) error {
	exporter, err := otlptracegrpc.New(ctx, traceExporterOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampling))),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.Interval),
			sdktrace.WithExportTimeout(exportTimeout(cfg)),
		),
	)
	otel.SetTracerProvider(tp)
	p.stops = append(p.stops, tp.Shutdown)

	return nil
}

func (p *pipelines) startMetrics(ctx context.Context, cfg config.MetricsConfig, res *resource.Resource) error {
	exporter, err := otlpmetricgrpc.New(ctx, metricExporterOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.Interval),
			sdkmetric.WithTimeout(exportTimeout(cfg)),
		)),
	)
	otel.SetMeterProvider(mp)
	p.stops = append(p.stops, mp.Shutdown)

	return nil
}

func (p *pipelines) shutdown(ctx context.Context) error {
	var errs []error
	for _, stop := range slices.Backward(p.stops) {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.stops = nil
	return errors.Join(errs...)
}

func metricExporterOptions(cfg config.MetricsConfig) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(exportTimeout(cfg)),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	if cfg.Compression == gzipCompressor {
		opts = append(opts, otlpmetricgrpc.WithCompressor(gzipCompressor))
	}
	return opts
}

func traceExporterOptions(cfg config.MetricsConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(exportTimeout(cfg)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.Compression == gzipCompressor {
		opts = append(opts, otlptracegrpc.WithCompressor(gzipCompressor))
	}
	return opts
}

func exportTimeout(cfg config.MetricsConfig) time.Duration {
	if cfg.ExportTimeout <= 0 {
		return defaultExportTimeout
	}
	return cfg.ExportTimeout
}
