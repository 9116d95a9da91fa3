// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package shutdown propagates a single process-wide stop request to every
// consumer worker.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRequested is the context cause once shutdown has been requested.
var ErrRequested = errors.New("shutdown requested")

// Coordinator owns the shutdown flag. Workers only observe it through
// Context, Done and IsShutdown; requesting is reserved to the process.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger

	requested atomic.Bool
	notifying atomic.Bool

	mu     sync.Mutex
	reason string
	at     time.Time
}

// New creates a coordinator whose context derives from parent.
func New(parent context.Context, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// RequestShutdown cancels the shared context. Only the first call has an
// effect and returns true.
func (c *Coordinator) RequestShutdown(reason string) bool {
	if !c.requested.CompareAndSwap(false, true) {
		c.logger.Debug("shutdown_already_requested", slog.String("reason", reason))
		return false
	}

	c.mu.Lock()
	c.reason = reason
	c.at = time.Now()
	c.mu.Unlock()

	c.logger.Info("shutdown_requested", slog.String("reason", reason))
	c.cancel(fmt.Errorf("%w: %s", ErrRequested, reason))
	return true
}

// IsShutdown reports whether shutdown was requested or the parent context
// ended. It never blocks.
func (c *Coordinator) IsShutdown() bool {
	return c.requested.Load() || c.ctx.Err() != nil
}

// Context is cancelled once shutdown is requested.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Done is closed once shutdown is requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Reason returns the reason given to the effective RequestShutdown call.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// RequestedAt returns when shutdown was requested, or the zero time.
func (c *Coordinator) RequestedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}
