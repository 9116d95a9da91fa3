// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ConnectLimiter paces connection attempts shared by all workers so a large
// fleet does not hit the broker with every CONNECT at once.
type ConnectLimiter struct {
	limiter *rate.Limiter

	granted atomic.Int64
	waited  atomic.Int64 // nanoseconds
}

// NewConnectLimiter creates a limiter allowing r connections per second with
// the given burst. A non-positive rate disables pacing.
func NewConnectLimiter(r float64, burst int) *ConnectLimiter {
	limit := rate.Limit(r)
	if r <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &ConnectLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a connection slot is available or ctx is done.
func (l *ConnectLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.waited.Add(int64(time.Since(start)))
	l.granted.Add(1)
	return nil
}

// Unlimited reports whether pacing is disabled.
func (l *ConnectLimiter) Unlimited() bool {
	return l.limiter.Limit() == rate.Inf
}

// Stats returns the number of granted slots and the total time spent waiting.
func (l *ConnectLimiter) Stats() (granted int64, waited time.Duration) {
	return l.granted.Load(), time.Duration(l.waited.Load())
}
