// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const disconnectQuiesce = 250 // milliseconds

// paho3Session speaks MQTT 3.1/3.1.1 through github.com/eclipse/paho.mqtt.golang.
// Reconnection and subscription resumption are disabled: a lost connection
// ends the session.
type paho3Session struct {
	*inbox

	opts   Options
	logger *slog.Logger
	client mqtt.Client
}

func newPaho3(opts Options) *paho3Session {
	return &paho3Session{
		inbox:  newInbox(opts.InboxSize),
		opts:   opts,
		logger: opts.Logger,
	}
}

func (s *paho3Session) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(s.opts.BrokerURL()).
		SetClientID(s.opts.ClientID).
		SetUsername(s.opts.Username).
		SetPassword(s.opts.Password).
		SetCleanSession(s.opts.CleanStart).
		SetProtocolVersion(uint(s.opts.ProtocolVersion)).
		SetKeepAlive(s.opts.KeepAlive).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetResumeSubs(false).
		SetOrderMatters(true).
		SetDefaultPublishHandler(s.onMessage).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.markLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		})
}

func (s *paho3Session) Connect(ctx context.Context) (ConnectResult, error) {
	s.client = mqtt.NewClient(s.clientOptions())

	tok := s.client.Connect()
	err := waitToken(ctx, tok, s.opts.ConnectTimeout)

	ct, _ := tok.(*mqtt.ConnectToken)
	if err != nil && ct != nil && tokenDone(tok) {
		// Codes above 0x05 are paho's local network/protocol failures.
		if rc := ct.ReturnCode(); rc >= 0x01 && rc <= 0x05 {
			return ConnectResult{}, &ReasonError{Op: "connect", Code: connackReason(rc), Err: ErrConnectRejected}
		}
	}
	if err != nil {
		return ConnectResult{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	res := ConnectResult{}
	if ct != nil {
		res.SessionPresent = ct.SessionPresent()
	}

	s.logger.Debug("mqtt3_connected",
		slog.String("client_id", s.opts.ClientID),
		slog.String("broker", s.opts.BrokerURL()),
		slog.Bool("session_present", res.SessionPresent))

	return res, nil
}

func (s *paho3Session) Subscribe(ctx context.Context, topic string, qos byte) error {
	if s.client == nil || !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	// A nil callback routes deliveries through the default publish handler.
	tok := s.client.Subscribe(topic, qos, nil)
	if err := waitToken(ctx, tok, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && ReasonCode(code).Failed() {
			return &ReasonError{Op: "subscribe " + topic, Code: ReasonCode(code), Err: ErrSubscribeFailed}
		}
	}
	return nil
}

func (s *paho3Session) Unsubscribe(ctx context.Context, topic string) error {
	if s.client == nil || !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	if err := waitToken(ctx, s.client.Unsubscribe(topic), 0); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (s *paho3Session) Disconnect(ctx context.Context) error {
	s.close()

	if s.client == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.client.Disconnect(disconnectQuiesce)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *paho3Session) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := NewMessage(m.Topic(), m.Payload(), m.Qos(), m.MessageID())
	msg.Retain = m.Retained()
	msg.Duplicate = m.Duplicate()
	s.deliver(msg)
}

// waitToken waits for a paho token, honouring ctx and an optional timeout.
func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	}
}

func tokenDone(tok mqtt.Token) bool {
	select {
	case <-tok.Done():
		return true
	default:
		return false
	}
}

// connackReason maps MQTT 3.1.1 CONNACK return codes onto their MQTT 5.0
// equivalents so both backends report the same codes.
func connackReason(code byte) ReasonCode {
	switch code {
	case 0x01:
		return ReasonUnsupportedProtocol
	case 0x02:
		return ReasonClientIDInvalid
	case 0x03:
		return ReasonServerUnavailable
	case 0x04:
		return ReasonBadCredentials
	case 0x05:
		return ReasonNotAuthorized
	default:
		return ReasonUnspecified
	}
}
