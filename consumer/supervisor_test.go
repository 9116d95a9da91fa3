// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/absmach/overload/client"
	"github.com/absmach/overload/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSupervisorValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SupervisorConfig
		err  error
	}{
		{"no clients", SupervisorConfig{Clients: 0, Topics: []string{"a"}}, ErrNoClients},
		{"negative clients", SupervisorConfig{Clients: -1, Topics: []string{"a"}}, ErrNoClients},
		{"no topics", SupervisorConfig{Clients: 1}, ErrNoTopics},
		{"valid", SupervisorConfig{Clients: 2, Topics: []string{"a"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSupervisor(tt.cfg, nil, nil, nil, nil, discard)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.Snapshot(), tt.cfg.Clients)
		})
	}
}

func TestSupervisorClientIDs(t *testing.T) {
	s, err := NewSupervisor(SupervisorConfig{Clients: 3, Topics: []string{"a"}}, nil, nil, nil, nil, discard)
	require.NoError(t, err)

	snap := s.Snapshot()
	for i, ws := range snap {
		assert.Equal(t, i, ws.ID)
		assert.Equal(t, fmt.Sprintf("%s%d", DefaultClientIDPrefix, i+1), ws.ClientID)
		assert.Equal(t, StateDisconnected.String(), ws.State)
	}
}

func TestSupervisorRunIsolatesFailures(t *testing.T) {
	fleet := newFakeFleet(func(clientID string, s *fakeSession) {
		if clientID == "Subscriber2" {
			s.connectErr = client.ErrConnectFailed
		}
	})
	tt := testTopics(t, 5)

	sup, err := NewSupervisor(SupervisorConfig{
		Clients:    3,
		Topics:     tt,
		QoS:        1,
		AckTimeout: time.Second,
	}, fleet.factory, nil, nil, nil, discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() {
		r, err := sup.Run(ctx)
		assert.NoError(t, err)
		done <- r
	}()

	require.Eventually(t, func() bool {
		snap := sup.Snapshot()
		return snap[0].State == StateListening.String() &&
			snap[1].State == StateClosed.String() &&
			snap[2].State == StateListening.String()
	}, 5*time.Second, time.Millisecond)

	cancel()

	var report Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish")
	}

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Cancelled)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Completed)
	assert.ErrorIs(t, report.Results[1].Err, ErrConnection)

	for _, id := range []string{"Subscriber1", "Subscriber3"} {
		subscribed, unsubscribed, disconnects := fleet.session(id).calls()
		assert.Equal(t, tt, subscribed, id)
		assert.Equal(t, tt, unsubscribed, id)
		assert.Equal(t, 1, disconnects, id)
	}
	subscribed, _, _ := fleet.session("Subscriber2").calls()
	assert.Empty(t, subscribed)

	for _, ws := range sup.Snapshot() {
		assert.Equal(t, StateClosed.String(), ws.State)
	}
}

func TestSupervisorWaitsForAllWorkers(t *testing.T) {
	release := make(chan struct{})
	fleet := newFakeFleet(func(clientID string, s *fakeSession) {
		if clientID == "Subscriber1" {
			s.onSubscribe = func(string) { <-release }
		}
	})

	sup, err := NewSupervisor(SupervisorConfig{Clients: 2, Topics: testTopics(t, 1), MaxMessages: 1}, fleet.factory, nil, nil, nil, discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan Report, 1)
	go func() {
		r, _ := sup.Run(ctx)
		done <- r
	}()

	require.Eventually(t, func() bool {
		return sup.Snapshot()[1].State == StateListening.String()
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("supervisor returned while a worker was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case r := <-done:
		assert.Equal(t, 2, r.Cancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish")
	}
}

func TestSupervisorCompletedReport(t *testing.T) {
	fleet := newFakeFleet(func(_ string, s *fakeSession) {
		s.msgs <- client.NewMessage("overload/ce/0001", []byte("x"), 1, 1)
		s.msgs <- client.NewMessage("overload/ce/0002", []byte("y"), 1, 2)
	})

	sup, err := NewSupervisor(SupervisorConfig{Clients: 4, Topics: testTopics(t, 2), MaxMessages: 2}, fleet.factory, nil, nil, nil, discard)
	require.NoError(t, err)

	report, err := sup.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Completed)
	assert.Equal(t, int64(8), report.Received)
	assert.Zero(t, report.Subscribed)

	_, err = sup.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSupervisorCoordinatedShutdown(t *testing.T) {
	fleet := newFakeFleet(nil)
	tt := testTopics(t, 5)
	coord := shutdown.New(context.Background(), discard)

	sup, err := NewSupervisor(SupervisorConfig{
		Clients:    1,
		Topics:     tt,
		QoS:        1,
		AckTimeout: time.Second,
	}, fleet.factory, nil, nil, nil, discard)
	require.NoError(t, err)

	done := make(chan Report, 1)
	go func() {
		r, err := sup.Run(coord.Context())
		assert.NoError(t, err)
		done <- r
	}()

	require.Eventually(t, func() bool {
		return sup.Snapshot()[0].State == StateListening.String()
	}, 5*time.Second, time.Millisecond)

	assert.True(t, coord.RequestShutdown("interrupt"))
	assert.False(t, coord.RequestShutdown("interrupt"))

	var report Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish after shutdown")
	}

	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Cancelled)
	assert.ErrorIs(t, report.Results[0].Err, ErrCancelled)
	assert.ErrorIs(t, context.Cause(coord.Context()), shutdown.ErrRequested)

	s := fleet.session("Subscriber1")
	subscribed, unsubscribed, disconnects := s.calls()
	assert.Equal(t, tt, subscribed)
	assert.Equal(t, tt, unsubscribed)
	assert.Equal(t, 1, disconnects)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, err := range s.unsubCtxErrs {
		assert.NoError(t, err, "unsubscribe %s ran on a cancelled context", tt[i])
	}
}
