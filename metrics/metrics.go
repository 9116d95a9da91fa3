// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/overload/consumer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "overload-consumer"

var _ consumer.Recorder = (*Metrics)(nil)

var (
	resultOK    = metric.WithAttributes(attribute.String("result", "ok"))
	resultError = metric.WithAttributes(attribute.String("result", "error"))
)

// Metrics holds the consumer's OpenTelemetry instruments.
type Metrics struct {
	meter metric.Meter

	connects       metric.Int64Counter
	subscribes     metric.Int64Counter
	unsubscribes   metric.Int64Counter
	messages       metric.Int64Counter
	bytesReceived  metric.Int64Counter
	workersExited  metric.Int64Counter
	subscriptions  metric.Int64UpDownCounter
	messageSize    metric.Int64Histogram
	connectLatency metric.Float64Histogram
	ackLatency     metric.Float64Histogram
}

// NewMetrics creates every instrument from mp, or from the global meter
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{meter: mp.Meter(meterName)}

	var err error
	if m.connects, err = m.meter.Int64Counter("overload.connections.total",
		metric.WithDescription("Connection attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	if m.subscribes, err = m.meter.Int64Counter("overload.subscribes.total",
		metric.WithDescription("Subscribe attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create subscribes counter: %w", err)
	}
	if m.unsubscribes, err = m.meter.Int64Counter("overload.unsubscribes.total",
		metric.WithDescription("Unsubscribe attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create unsubscribes counter: %w", err)
	}
	if m.messages, err = m.meter.Int64Counter("overload.messages.received.total",
		metric.WithDescription("Messages handed to the handler")); err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}
	if m.bytesReceived, err = m.meter.Int64Counter("overload.bytes.received.total",
		metric.WithDescription("Payload bytes received"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}
	if m.workersExited, err = m.meter.Int64Counter("overload.workers.exited.total",
		metric.WithDescription("Workers finished by terminal status")); err != nil {
		return nil, fmt.Errorf("failed to create workers counter: %w", err)
	}
	if m.subscriptions, err = m.meter.Int64UpDownCounter("overload.subscriptions.active",
		metric.WithDescription("Subscriptions currently held across all workers")); err != nil {
		return nil, fmt.Errorf("failed to create subscriptions gauge: %w", err)
	}
	if m.messageSize, err = m.meter.Int64Histogram("overload.message.size",
		metric.WithDescription("Payload size distribution"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create message size histogram: %w", err)
	}
	if m.connectLatency, err = m.meter.Float64Histogram("overload.connect.duration",
		metric.WithDescription("CONNECT to CONNACK latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create connect histogram: %w", err)
	}
	if m.ackLatency, err = m.meter.Float64Histogram("overload.ack.duration",
		metric.WithDescription("SUBSCRIBE/UNSUBSCRIBE acknowledgement latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create ack histogram: %w", err)
	}

	return m, nil
}

// RecordConnect records a connection attempt.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	m.connects.Add(ctx, 1, result(err))
	m.connectLatency.Record(ctx, millis(d), result(err))
}

// RecordSubscribe records a subscribe attempt.
func (m *Metrics) RecordSubscribe(ctx context.Context, d time.Duration, err error) {
	m.subscribes.Add(ctx, 1, result(err))
	m.ackLatency.Record(ctx, millis(d), metric.WithAttributes(attribute.String("op", "subscribe")))
	if err == nil {
		m.subscriptions.Add(ctx, 1)
	}
}

// RecordUnsubscribe records an unsubscribe attempt.
func (m *Metrics) RecordUnsubscribe(ctx context.Context, d time.Duration, err error) {
	m.unsubscribes.Add(ctx, 1, result(err))
	m.ackLatency.Record(ctx, millis(d), metric.WithAttributes(attribute.String("op", "unsubscribe")))
	if err == nil {
		m.subscriptions.Add(ctx, -1)
	}
}

// RecordMessage records a delivered message. Topics are not used as
// attributes to keep cardinality bounded.
func (m *Metrics) RecordMessage(ctx context.Context, _ string, size int) {
	m.messages.Add(ctx, 1)
	m.bytesReceived.Add(ctx, int64(size))
	m.messageSize.Record(ctx, int64(size))
}

// RecordWorkerExit records a worker's terminal status.
func (m *Metrics) RecordWorkerExit(ctx context.Context, status consumer.Status) {
	m.workersExited.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func result(err error) metric.MeasurementOption {
	if err != nil {
		return resultError
	}
	return resultOK
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
