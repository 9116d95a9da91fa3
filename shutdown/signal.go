// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signals that trigger shutdown.
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var stopSignals = signal.Stop

// Notify forwards Signals to c.RequestShutdown until ctx ends or stop is
// called, then restores default signal handling. Signal handling is
// installed once per coordinator; later calls return a no-op stop.
func Notify(ctx context.Context, c *Coordinator, logger *slog.Logger) (stop func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if !c.notifying.CompareAndSwap(false, true) {
		logger.Warn("signal_handler_already_installed")
		return func() {}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, Signals...)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		// Once the forwarder exits, a further signal gets the default
		// disposition and terminates the process.
		defer stopSignals(sigs)
		for {
			select {
			case sig := <-sigs:
				logger.Info("signal_received", slog.String("signal", sig.String()))
				if !c.RequestShutdown("signal: " + sig.String()) {
					logger.Warn("shutdown_in_progress", slog.String("reason", c.Reason()))
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}
