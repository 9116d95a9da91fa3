// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/absmach/overload/config"
	"github.com/absmach/overload/consumer"
)

// runResult is the one-line JSON summary of a run.
type runResult struct {
	Timestamp      string  `json:"timestamp"`
	RunID          string  `json:"run_id"`
	Broker         string  `json:"broker"`
	Clients        int     `json:"clients"`
	Subscriptions  int     `json:"subscriptions"`
	Completed      int     `json:"completed"`
	Cancelled      int     `json:"cancelled"`
	Failed         int     `json:"failed"`
	Received       int64   `json:"received"`
	Errors         int     `json:"errors"`
	LeftSubscribed int     `json:"left_subscribed"`
	ReceiveRate    float64 `json:"receive_rate_mps"`
	DurationMS     int64   `json:"duration_ms"`
}

func newRunResult(cfg *config.Config, runID string, report consumer.Report) runResult {
	res := runResult{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		RunID:          runID,
		Broker:         fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		Clients:        cfg.Load.Clients,
		Subscriptions:  cfg.Load.Subscriptions,
		Completed:      report.Completed,
		Cancelled:      report.Cancelled,
		Failed:         report.Failed,
		Received:       report.Received,
		LeftSubscribed: report.Subscribed,
		DurationMS:     report.Duration.Milliseconds(),
	}
	for _, r := range report.Results {
		res.Errors += len(r.Errors)
		if r.Status == consumer.StatusFailed {
			res.Errors++
		}
	}
	if secs := report.Duration.Seconds(); secs > 0 {
		res.ReceiveRate = float64(report.Received) / secs
	}
	return res
}

func appendJSONLine(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open json output %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write json line: %w", err)
	}
	return nil
}
