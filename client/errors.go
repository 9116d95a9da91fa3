// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// Configuration errors.
	ErrEmptyHost        = errors.New("broker host cannot be empty")
	ErrInvalidPort      = errors.New("broker port must be between 1 and 65535")
	ErrEmptyClientID    = errors.New("client ID cannot be empty")
	ErrInvalidProtocol  = errors.New("invalid protocol version (must be 3, 4 or 5)")
	ErrInvalidQoS       = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTransport = errors.New("invalid transport (must be tcp or ws)")

	// Connection errors.
	ErrNotConnected    = errors.New("client not connected")
	ErrConnectFailed   = errors.New("connection failed")
	ErrConnectRejected = errors.New("connection rejected by broker")
	ErrConnectionLost  = errors.New("connection lost")

	// Operation errors.
	ErrTimeout           = errors.New("operation timed out")
	ErrSubscribeFailed   = errors.New("subscription failed")
	ErrUnsubscribeFailed = errors.New("unsubscription failed")
)

// ReasonCode is an MQTT CONNACK return code (v3.1.1) or reason code (v5).
// Values of 0x80 and above indicate failure.
type ReasonCode byte

// Reason codes the consumer reacts to.
const (
	ReasonSuccess               ReasonCode = 0x00
	ReasonGrantedQoS1           ReasonCode = 0x01
	ReasonGrantedQoS2           ReasonCode = 0x02
	ReasonNoSubscriptionExisted ReasonCode = 0x11
	ReasonUnspecified           ReasonCode = 0x80
	ReasonImplementationError   ReasonCode = 0x83
	ReasonUnsupportedProtocol   ReasonCode = 0x84
	ReasonClientIDInvalid       ReasonCode = 0x85
	ReasonBadCredentials        ReasonCode = 0x86
	ReasonNotAuthorized         ReasonCode = 0x87
	ReasonServerUnavailable     ReasonCode = 0x88
	ReasonServerBusy            ReasonCode = 0x89
	ReasonTopicFilterInvalid    ReasonCode = 0x8F
	ReasonPacketIDInUse         ReasonCode = 0x91
	ReasonQuotaExceeded         ReasonCode = 0x97
	ReasonSharedSubsUnsupported ReasonCode = 0x9E
)

// Failed reports whether the code signals a failure.
func (c ReasonCode) Failed() bool {
	return c >= 0x80
}

// String returns a human-readable description of the reason code.
func (c ReasonCode) String() string {
	switch c {
	case ReasonSuccess:
		return "success"
	case ReasonGrantedQoS1:
		return "granted QoS 1"
	case ReasonGrantedQoS2:
		return "granted QoS 2"
	case ReasonNoSubscriptionExisted:
		return "no subscription existed"
	case ReasonUnspecified:
		return "unspecified error"
	case ReasonImplementationError:
		return "implementation specific error"
	case ReasonUnsupportedProtocol:
		return "unsupported protocol version"
	case ReasonClientIDInvalid:
		return "client identifier not valid"
	case ReasonBadCredentials:
		return "bad username or password"
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonServerUnavailable:
		return "server unavailable"
	case ReasonServerBusy:
		return "server busy"
	case ReasonTopicFilterInvalid:
		return "topic filter invalid"
	case ReasonPacketIDInUse:
		return "packet identifier in use"
	case ReasonQuotaExceeded:
		return "quota exceeded"
	case ReasonSharedSubsUnsupported:
		return "shared subscriptions not supported"
	default:
		return fmt.Sprintf("reason code 0x%02X", byte(c))
	}
}

// ReasonError is a protocol-level rejection reported by the broker.
type ReasonError struct {
	Op   string
	Code ReasonCode
	Err  error
}

func (e *ReasonError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Code)
}

func (e *ReasonError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err carries a broker reason code.
func IsProtocolError(err error) bool {
	var re *ReasonError
	return errors.As(err, &re)
}
