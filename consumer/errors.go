// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"errors"
	"fmt"
)

// Error kinds. Every error a worker reports wraps exactly one of them.
var (
	// ErrConnection is fatal to the worker; there is no retry.
	ErrConnection = errors.New("connection error")
	// ErrSubscription is recoverable; the worker continues with fewer topics.
	ErrSubscription = errors.New("subscription error")
	// ErrUnsubscription is recoverable; shutdown continues with the next topic.
	ErrUnsubscription = errors.New("unsubscription error")
	// ErrCancelled marks cooperative cancellation. It is not a failure.
	ErrCancelled = errors.New("worker cancelled")
	// ErrUnexpected covers everything else, including recovered panics.
	ErrUnexpected = errors.New("unexpected error")
)

var kinds = []error{ErrConnection, ErrSubscription, ErrUnsubscription, ErrCancelled, ErrUnexpected}

// Supervisor errors.
var (
	ErrNoClients      = errors.New("client count must be positive")
	ErrNoTopics       = errors.New("topic set cannot be empty")
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// OpError describes a failed worker operation.
type OpError struct {
	Kind   error
	Op     string
	Worker int
	Topic  string
	Err    error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("worker %d: %s", e.Worker, e.Op)
	if e.Topic != "" {
		msg += " " + e.Topic
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind sentinel carried by err, nil for a nil error and
// ErrUnexpected for errors that carry no kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Kind != nil {
		return oe.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnexpected
}
