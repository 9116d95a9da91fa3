// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/absmach/overload/client"
)

var errFakeRejected = errors.New("fake rejection")

// fakeSession records every broker operation issued by a worker.
type fakeSession struct {
	mu sync.Mutex

	connectErr  error
	subErr      map[string]error
	unsubErr    map[string]error
	onSubscribe func(topic string)
	panicOn     string

	connected    bool
	subscribed   []string
	unsubscribed []string
	unsubCtxErrs []error
	disconnects  int

	msgs    chan *client.Message
	lost    chan struct{}
	lostErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		subErr:   make(map[string]error),
		unsubErr: make(map[string]error),
		msgs:     make(chan *client.Message, 64),
		lost:     make(chan struct{}),
	}
}

func (f *fakeSession) Connect(ctx context.Context) (client.ConnectResult, error) {
	if err := ctx.Err(); err != nil {
		return client.ConnectResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return client.ConnectResult{}, f.connectErr
	}
	f.connected = true
	return client.ConnectResult{}, nil
}

func (f *fakeSession) Subscribe(ctx context.Context, topic string, qos byte) error {
	if topic == f.panicOn {
		panic("subscribe exploded")
	}
	f.mu.Lock()
	f.subscribed = append(f.subscribed, topic)
	err := f.subErr[topic]
	hook := f.onSubscribe
	f.mu.Unlock()

	if hook != nil {
		hook(topic)
	}
	return err
}

func (f *fakeSession) Unsubscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	f.unsubCtxErrs = append(f.unsubCtxErrs, ctx.Err())
	return f.unsubErr[topic]
}

func (f *fakeSession) Messages() <-chan *client.Message {
	return f.msgs
}

func (f *fakeSession) Lost() <-chan struct{} {
	return f.lost
}

func (f *fakeSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lostErr
}

func (f *fakeSession) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeSession) loseConnection(err error) {
	f.mu.Lock()
	f.lostErr = err
	f.mu.Unlock()
	close(f.lost)
}

func (f *fakeSession) calls() (subscribed, unsubscribed []string, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...), append([]string(nil), f.unsubscribed...), f.disconnects
}

func factoryFor(s *fakeSession) client.Factory {
	return func(client.Options) (client.Session, error) {
		return s, nil
	}
}

// fakeFleet hands out one fake session per client id.
type fakeFleet struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	prepare  func(clientID string, s *fakeSession)
}

func newFakeFleet(prepare func(clientID string, s *fakeSession)) *fakeFleet {
	return &fakeFleet{sessions: make(map[string]*fakeSession), prepare: prepare}
}

func (ff *fakeFleet) factory(opts client.Options) (client.Session, error) {
	s := newFakeSession()
	if ff.prepare != nil {
		ff.prepare(opts.ClientID, s)
	}
	ff.mu.Lock()
	ff.sessions[opts.ClientID] = s
	ff.mu.Unlock()
	return s, nil
}

func (ff *fakeFleet) session(clientID string) *fakeSession {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.sessions[clientID]
}

// recordingHandler keeps every handled message in order.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []*client.Message
}

func (h *recordingHandler) Handle(_ context.Context, _ Identity, msg *client.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *recordingHandler) topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Topic
	}
	return out
}

type countingRecorder struct {
	mu           sync.Mutex
	connects     int
	subscribes   int
	unsubscribes int
	messages     int
	exits        []Status
}

func (r *countingRecorder) RecordConnect(context.Context, time.Duration, error) {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordSubscribe(context.Context, time.Duration, error) {
	r.mu.Lock()
	r.subscribes++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordUnsubscribe(context.Context, time.Duration, error) {
	r.mu.Lock()
	r.unsubscribes++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordMessage(context.Context, string, int) {
	r.mu.Lock()
	r.messages++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordWorkerExit(_ context.Context, s Status) {
	r.mu.Lock()
	r.exits = append(r.exits, s)
	r.mu.Unlock()
}
