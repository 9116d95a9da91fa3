// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"time"
)

// Recorder receives worker instrumentation events.
type Recorder interface {
	RecordConnect(ctx context.Context, d time.Duration, err error)
	RecordSubscribe(ctx context.Context, d time.Duration, err error)
	RecordUnsubscribe(ctx context.Context, d time.Duration, err error)
	RecordMessage(ctx context.Context, topic string, size int)
	RecordWorkerExit(ctx context.Context, status Status)
}

type nopRecorder struct{}

func (nopRecorder) RecordConnect(context.Context, time.Duration, error)     {}
func (nopRecorder) RecordSubscribe(context.Context, time.Duration, error)   {}
func (nopRecorder) RecordUnsubscribe(context.Context, time.Duration, error) {}
func (nopRecorder) RecordMessage(context.Context, string, int)              {}
func (nopRecorder) RecordWorkerExit(context.Context, Status)                {}

// Limiter paces connection attempts across workers.
type Limiter interface {
	Wait(ctx context.Context) error
}
