// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/overload/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.MetricsConfig)
		want   int
	}{
		{"defaults", func(*config.MetricsConfig) {}, 3},
		{"tls", func(c *config.MetricsConfig) { c.Insecure = false }, 2},
		{
			name: "headers and gzip",
			modify: func(c *config.MetricsConfig) {
				c.Headers = map[string]string{"authorization": "Bearer token"}
				c.Compression = "gzip"
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Metrics
			tt.modify(&cfg)

			assert.Len(t, metricExporterOptions(cfg), tt.want)
			assert.Len(t, traceExporterOptions(cfg), tt.want)
		})
	}
}

func TestExportTimeout(t *testing.T) {
	cfg := config.Default().Metrics
	assert.Equal(t, 30*time.Second, exportTimeout(cfg))

	cfg.ExportTimeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, exportTimeout(cfg))

	cfg.ExportTimeout = 0
	assert.Equal(t, defaultExportTimeout, exportTimeout(cfg))
}

func TestNewResource(t *testing.T) {
	cfg := config.Default().Metrics

	res, err := newResource(context.Background(), cfg, "run-1")
	require.NoError(t, err)

	set := res.Set()
	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "overload-consumer", name.AsString())

	id, ok := set.Value(semconv.ServiceInstanceIDKey)
	require.True(t, ok)
	assert.Equal(t, "run-1", id.AsString())
}

func TestPipelinesShutdownOrder(t *testing.T) {
	var order []string
	errMeter := errors.New("meter flush failed")

	p := &pipelines{}
	p.stops = append(p.stops,
		func(context.Context) error {
			order = append(order, "traces")
			return nil
		},
		func(context.Context) error {
			order = append(order, "metrics")
			return errMeter
		},
	)

	err := p.shutdown(context.Background())
	assert.ErrorIs(t, err, errMeter)
	assert.Equal(t, []string{"metrics", "traces"}, order)

	assert.NoError(t, p.shutdown(context.Background()))
	assert.Len(t, order, 2)
}
