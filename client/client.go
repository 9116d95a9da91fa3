// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"sync"
)

// Session is one broker connection owned by a single consumer worker.
type Session interface {
	// Connect dials the broker and completes the CONNECT/CONNACK exchange.
	Connect(ctx context.Context) (ConnectResult, error)

	// Subscribe subscribes to a single topic filter and waits for SUBACK.
	Subscribe(ctx context.Context, topic string, qos byte) error

	// Unsubscribe removes a single topic filter and waits for UNSUBACK.
	Unsubscribe(ctx context.Context, topic string) error

	// Messages delivers inbound messages in arrival order.
	Messages() <-chan *Message

	// Lost is closed when the connection drops without Disconnect being called.
	Lost() <-chan struct{}

	// Err returns the cause of a lost connection.
	Err() error

	// Disconnect sends DISCONNECT if connected and releases the connection.
	// It is safe to call on a session that never connected.
	Disconnect(ctx context.Context) error
}

// ConnectResult carries CONNACK details.
type ConnectResult struct {
	SessionPresent bool
}

// Factory creates a session for the given options.
type Factory func(opts Options) (Session, error)

// New returns a session backed by the paho client that matches the
// configured protocol version.
func New(opts Options) (Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ProtocolVersion == 5 {
		return newPaho5(opts), nil
	}
	return newPaho3(opts), nil
}

// inbox decouples the network reader from the consumer loop. Deliveries
// never block: the paho router must stay free to process SUBACK and
// UNSUBACK packets queued behind PUBLISH packets. A pump forwards queued
// messages to msgs in arrival order.
type inbox struct {
	msgs chan *Message

	qmu     sync.Mutex
	pending []*Message
	wake    chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	lost     chan struct{}
	lostOnce sync.Once

	mu  sync.Mutex
	err error
}

func newInbox(size int) *inbox {
	b := &inbox{
		msgs:   make(chan *Message, size),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go b.pump()
	return b
}

// deliver queues msg for the consumer and never blocks. It reports false
// once the inbox is closed.
func (b *inbox) deliver(msg *Message) bool {
	select {
	case <-b.closed:
		return false
	default:
	}

	b.qmu.Lock()
	b.pending = append(b.pending, msg)
	b.qmu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *inbox) pump() {
	for {
		b.qmu.Lock()
		if len(b.pending) == 0 {
			b.qmu.Unlock()
			select {
			case <-b.wake:
				continue
			case <-b.closed:
				return
			}
		}
		msg := b.pending[0]
		b.pending[0] = nil
		b.pending = b.pending[1:]
		b.qmu.Unlock()

		select {
		case b.msgs <- msg:
		case <-b.closed:
			return
		}
	}
}

// backlog returns the number of messages not yet handed to msgs.
func (b *inbox) backlog() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.pending)
}

// markLost records an unsolicited connection loss. Losses reported after
// close are ignored.
func (b *inbox) markLost(err error) {
	select {
	case <-b.closed:
		return
	default:
	}

	b.lostOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.lost)
	})
}

func (b *inbox) close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.qmu.Lock()
		b.pending = nil
		b.qmu.Unlock()
	})
}

func (b *inbox) Messages() <-chan *Message {
	return b.msgs
}

func (b *inbox) Lost() <-chan struct{} {
	return b.lost
}

func (b *inbox) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
