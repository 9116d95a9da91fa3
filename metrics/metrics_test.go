// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/overload/consumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumBy(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)

	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	fail := errors.New("rejected")

	m.RecordConnect(ctx, 5*time.Millisecond, nil)
	m.RecordConnect(ctx, time.Millisecond, fail)
	m.RecordSubscribe(ctx, time.Millisecond, nil)
	m.RecordSubscribe(ctx, time.Millisecond, nil)
	m.RecordSubscribe(ctx, time.Millisecond, fail)
	m.RecordUnsubscribe(ctx, time.Millisecond, nil)
	m.RecordWorkerExit(ctx, consumer.StatusCancelled)
	m.RecordWorkerExit(ctx, consumer.StatusFailed)

	data := collect(t, reader)

	assert.Equal(t, int64(1), sumBy(t, data["overload.connections.total"], "result", "ok"))
	assert.Equal(t, int64(1), sumBy(t, data["overload.connections.total"], "result", "error"))
	assert.Equal(t, int64(2), sumBy(t, data["overload.subscribes.total"], "result", "ok"))
	assert.Equal(t, int64(1), sumBy(t, data["overload.subscribes.total"], "result", "error"))
	assert.Equal(t, int64(1), sumBy(t, data["overload.subscriptions.active"], "", ""))
	assert.Equal(t, int64(1), sumBy(t, data["overload.workers.exited.total"], "status", "cancelled"))
	assert.Equal(t, int64(1), sumBy(t, data["overload.workers.exited.total"], "status", "failed"))

	hist, ok := data["overload.connect.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestRecordMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessage(ctx, "overload/ce/0001", 100)
	m.RecordMessage(ctx, "overload/ce/0002", 50)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumBy(t, data["overload.messages.received.total"], "", ""))
	assert.Equal(t, int64(150), sumBy(t, data["overload.bytes.received.total"], "", ""))
}

func TestMillis(t *testing.T) {
	assert.InDelta(t, 1.5, millis(1500*time.Microsecond), 1e-9)
}
