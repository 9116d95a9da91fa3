// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/absmach/overload/client"
	"github.com/absmach/overload/config"
	"github.com/absmach/overload/consumer"
	"github.com/absmach/overload/health"
	"github.com/absmach/overload/metrics"
	"github.com/absmach/overload/ratelimit"
	"github.com/absmach/overload/shutdown"
	"github.com/absmach/overload/topics"
	"github.com/google/uuid"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	clients := flag.Int("clients", 0, "Number of client sessions (overrides load.clients)")
	subscriptions := flag.Int("subscriptions", 0, "Topics per client (overrides load.subscriptions)")
	host := flag.String("host", "", "Broker host (overrides broker.host)")
	port := flag.Int("port", 0, "Broker port (overrides broker.port)")
	jsonOut := flag.String("json-out", "", "Optional file to append one JSON line result")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *clients > 0 {
		cfg.Load.Clients = *clients
	}
	if *subscriptions > 0 {
		cfg.Load.Subscriptions = *subscriptions
	}
	if *host != "" {
		cfg.Broker.Host = *host
	}
	if *port > 0 {
		cfg.Broker.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel, _ := config.ParseLevel(cfg.Log.Level)
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	runID := uuid.NewString()
	logger := slog.New(handler).With("run_id", runID)
	slog.SetDefault(logger)

	os.Exit(run(cfg, runID, *jsonOut, logger))
}

func run(cfg *config.Config, runID, jsonOut string, logger *slog.Logger) int {
	coord := shutdown.New(context.Background(), logger)
	stopSignals := shutdown.Notify(coord.Context(), coord, logger)
	defer stopSignals()

	topicSet, err := topics.Generate(cfg.Load.ShareGroup, cfg.Load.TopicBase, cfg.Load.Subscriptions)
	if err != nil {
		logger.Error("Failed to generate topics", "error", err)
		return 1
	}

	var recorder consumer.Recorder
	if cfg.Metrics.Enabled {
		otelShutdown, err := metrics.InitProvider(context.Background(), cfg.Metrics, runID)
		if err != nil {
			logger.Error("Failed to initialize OpenTelemetry", "error", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := otelShutdown(ctx); err != nil {
				logger.Error("OpenTelemetry shutdown error", "error", err)
			}
		}()

		m, err := metrics.NewMetrics(nil)
		if err != nil {
			logger.Error("Failed to create metrics", "error", err)
			return 1
		}
		recorder = m
		logger.Info("OpenTelemetry initialized", "endpoint", cfg.Metrics.Endpoint, "traces", cfg.Metrics.TracesEnabled)
	}

	handlerLevel, _ := config.ParseLevel(cfg.Handler.LogLevel)
	msgHandler, err := consumer.NewLogHandler(consumer.LogHandlerConfig{
		Format:      cfg.Handler.PayloadFormat,
		Compression: cfg.Handler.Compression,
		Level:       handlerLevel,
	}, logger)
	if err != nil {
		logger.Error("Failed to create message handler", "error", err)
		return 1
	}
	defer msgHandler.Close()

	opts := client.NewOptions().
		SetServer(cfg.Broker.Host, cfg.Broker.Port).
		SetCredentials(cfg.Broker.Username, cfg.Broker.Password).
		SetCleanStart(!cfg.Broker.PersistentSession).
		SetProtocolVersion(cfg.Broker.ProtocolVersion)
	if cfg.Broker.Transport == client.TransportWebSocket {
		opts.SetWebSocket(cfg.Broker.WSPath)
	}
	opts.SessionExpiry = cfg.Broker.SessionExpiry
	opts.KeepAlive = cfg.Broker.KeepAlive
	opts.ConnectTimeout = cfg.Broker.ConnectTimeout
	opts.InboxSize = cfg.Load.InboxSize
	opts.Logger = logger

	limiter := ratelimit.NewConnectLimiter(cfg.Load.ConnectRate, cfg.Load.ConnectBurst)

	sup, err := consumer.NewSupervisor(consumer.SupervisorConfig{
		Clients:        cfg.Load.Clients,
		ClientIDPrefix: cfg.Load.ClientIDPrefix,
		Topics:         topicSet,
		QoS:            cfg.Load.QoS,
		AckTimeout:     cfg.Broker.AckTimeout,
		Duration:       cfg.Load.Duration,
		MaxMessages:    cfg.Load.MaxMessages,
		Session:        *opts,
	}, client.New, msgHandler, limiter, recorder, logger)
	if err != nil {
		logger.Error("Failed to create supervisor", "error", err)
		return 1
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	if cfg.Health.Enabled {
		hs := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
			RunID:           runID,
		}, sup, coord, logger)
		go func() {
			if err := hs.Listen(healthCtx); err != nil {
				logger.Error("Health check server error", "error", err)
			}
		}()
	}

	logger.Info("Starting overload consumer",
		"broker", opts.BrokerURL(),
		"protocol_version", cfg.Broker.ProtocolVersion,
		"clients", cfg.Load.Clients,
		"subscriptions", len(topicSet),
		"connect_rate", cfg.Load.ConnectRate)

	done := make(chan consumer.Report, 1)
	go func() {
		report, err := sup.Run(coord.Context())
		if err != nil {
			logger.Error("Supervisor error", "error", err)
		}
		done <- report
	}()

	var report consumer.Report
	select {
	case report = <-done:
	case <-coord.Done():
		logger.Info("Draining workers", "reason", coord.Reason(), "timeout", cfg.Load.DrainTimeout)

		var expired <-chan time.Time
		if cfg.Load.DrainTimeout > 0 {
			t := time.NewTimer(cfg.Load.DrainTimeout)
			defer t.Stop()
			expired = t.C
		}

		select {
		case report = <-done:
		case <-expired:
			logger.Error("Drain timeout exceeded, exiting with workers still running", "timeout", cfg.Load.DrainTimeout)
			return 1
		}
	}

	granted, waited := limiter.Stats()
	logger.Info("Overload consumer finished",
		"completed", report.Completed,
		"cancelled", report.Cancelled,
		"failed", report.Failed,
		"received", report.Received,
		"still_subscribed", report.Subscribed,
		"connects_granted", granted,
		"connect_wait", waited,
		"duration", report.Duration)

	for _, res := range report.Results {
		if res.Status == consumer.StatusFailed {
			logger.Warn("Worker failed", "worker", res.ID, "client_id", res.ClientID, "error", res.Err)
		}
	}

	if jsonOut != "" {
		if err := appendJSONLine(jsonOut, newRunResult(cfg, runID, report)); err != nil {
			logger.Error("Failed to write result", "error", err)
		}
	}

	return 0
}
