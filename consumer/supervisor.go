// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/overload/client"
)

// DefaultClientIDPrefix prefixes the one-based worker number to build
// client ids, so worker 0 connects as Subscriber1.
const DefaultClientIDPrefix = "Subscriber"

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Clients        int
	ClientIDPrefix string
	Topics         []string
	QoS            byte
	AckTimeout     time.Duration
	Duration       time.Duration
	MaxMessages    int64
	Session        client.Options
}

// Report aggregates worker results once every worker has finished.
type Report struct {
	Results    []Result
	Completed  int
	Cancelled  int
	Failed     int
	Subscribed int
	Received   int64
	Duration   time.Duration
}

// Supervisor runs a fixed set of workers to completion.
type Supervisor struct {
	cfg     SupervisorConfig
	workers []*Worker
	logger  *slog.Logger
	started atomic.Bool
}

// NewSupervisor creates the workers up front so their status can be
// observed before and during Run.
func NewSupervisor(cfg SupervisorConfig, factory client.Factory, handler Handler, limiter Limiter, recorder Recorder, logger *slog.Logger) (*Supervisor, error) {
	if cfg.Clients <= 0 {
		return nil, ErrNoClients
	}
	if len(cfg.Topics) == 0 {
		return nil, ErrNoTopics
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = DefaultClientIDPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:     cfg,
		workers: make([]*Worker, cfg.Clients),
		logger:  logger,
	}
	for i := range s.workers {
		s.workers[i] = NewWorker(WorkerConfig{
			ID:          i,
			ClientID:    fmt.Sprintf("%s%d", cfg.ClientIDPrefix, i+1),
			Topics:      cfg.Topics,
			QoS:         cfg.QoS,
			AckTimeout:  cfg.AckTimeout,
			Duration:    cfg.Duration,
			MaxMessages: cfg.MaxMessages,
			Session:     cfg.Session,
		}, factory, handler, limiter, recorder, logger)
	}

	return s, nil
}

// Run starts every worker and blocks until all of them are closed. A worker
// failure never cancels its siblings; only ctx does.
func (s *Supervisor) Run(ctx context.Context) (Report, error) {
	if !s.started.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyStarted
	}

	start := time.Now()
	s.logger.Info("supervisor_started",
		slog.Int("clients", len(s.workers)),
		slog.Int("topics", len(s.cfg.Topics)))

	results := make([]Result, len(s.workers))
	var wg sync.WaitGroup
	for i, w := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = w.Run(ctx)
		}()
	}
	wg.Wait()

	report := newReport(results, time.Since(start))
	s.logger.Info("supervisor_finished",
		slog.Int("completed", report.Completed),
		slog.Int("cancelled", report.Cancelled),
		slog.Int("failed", report.Failed),
		slog.Int("subscribed", report.Subscribed),
		slog.Int64("received", report.Received),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// Snapshot returns the live status of every worker, ordered by id.
func (s *Supervisor) Snapshot() []WorkerStatus {
	out := make([]WorkerStatus, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.Status()
	}
	return out
}

func newReport(results []Result, d time.Duration) Report {
	r := Report{Results: results, Duration: d}
	for _, res := range results {
		switch res.Status {
		case StatusCompleted:
			r.Completed++
		case StatusCancelled:
			r.Cancelled++
		case StatusFailed:
			r.Failed++
		}
		r.Subscribed += len(res.Subscribed)
		r.Received += res.Received
	}
	return r
}
