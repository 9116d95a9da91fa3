// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// paho5Session speaks MQTT 5.0 through github.com/eclipse/paho.golang.
type paho5Session struct {
	*inbox

	opts   Options
	logger *slog.Logger
	conn   net.Conn
	client *paho.Client
}

func newPaho5(opts Options) *paho5Session {
	return &paho5Session{
		inbox:  newInbox(opts.InboxSize),
		opts:   opts,
		logger: opts.Logger,
	}
}

func (s *paho5Session) Connect(ctx context.Context) (ConnectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := dial(ctx, s.opts)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	s.conn = conn

	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: s.opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			s.onPublish,
		},
		OnClientError: func(err error) {
			s.markLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.markLost(&ReasonError{Op: "server disconnect", Code: ReasonCode(d.ReasonCode), Err: ErrConnectionLost})
		},
	})

	expiry := uint32(clampSeconds(s.opts.SessionExpiry, math.MaxUint32))
	cp := &paho.Connect{
		ClientID:   s.opts.ClientID,
		KeepAlive:  uint16(clampSeconds(s.opts.KeepAlive, math.MaxUint16)),
		CleanStart: s.opts.CleanStart,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &expiry,
		},
	}
	if s.opts.Username != "" {
		cp.Username = s.opts.Username
		cp.UsernameFlag = true
	}
	if s.opts.Password != "" {
		cp.Password = []byte(s.opts.Password)
		cp.PasswordFlag = true
	}

	ca, err := s.client.Connect(ctx, cp)
	switch {
	case ca != nil && ReasonCode(ca.ReasonCode).Failed():
		err = &ReasonError{Op: "connect", Code: ReasonCode(ca.ReasonCode), Err: ErrConnectRejected}
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if err != nil {
		// The paho client is unusable after a failed handshake.
		s.client = nil
		return ConnectResult{}, err
	}

	s.logger.Debug("mqtt5_connected",
		slog.String("client_id", s.opts.ClientID),
		slog.String("broker", s.opts.BrokerURL()),
		slog.Bool("session_present", ca.SessionPresent))

	return ConnectResult{SessionPresent: ca.SessionPresent}, nil
}

func (s *paho5Session) Subscribe(ctx context.Context, topic string, qos byte) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	sa, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	if sa != nil && len(sa.Reasons) > 0 && ReasonCode(sa.Reasons[0]).Failed() {
		return &ReasonError{Op: "subscribe " + topic, Code: ReasonCode(sa.Reasons[0]), Err: ErrSubscribeFailed}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (s *paho5Session) Unsubscribe(ctx context.Context, topic string) error {
	if s.client == nil {
		return ErrNotConnected
	}

	ua, err := s.client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	if ua != nil && len(ua.Reasons) > 0 && ReasonCode(ua.Reasons[0]).Failed() {
		return &ReasonError{Op: "unsubscribe " + topic, Code: ReasonCode(ua.Reasons[0]), Err: ErrUnsubscribeFailed}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (s *paho5Session) Disconnect(ctx context.Context) error {
	s.close()

	if s.client == nil {
		if s.conn != nil {
			return s.conn.Close()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
}

func (s *paho5Session) onPublish(p paho.PublishReceived) (bool, error) {
	pkt := p.Packet
	msg := NewMessage(pkt.Topic, pkt.Payload, pkt.QoS, pkt.PacketID)
	msg.Retain = pkt.Retain
	return s.deliver(msg), nil
}

func dial(ctx context.Context, opts Options) (net.Conn, error) {
	if opts.Transport == TransportWebSocket {
		return dialWebSocket(ctx, opts.BrokerURL())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", opts.Address())
}

// clampSeconds converts d to whole seconds within [0, limit].
func clampSeconds(d time.Duration, limit int64) int64 {
	sec := int64(d / time.Second)
	if sec < 0 {
		return 0
	}
	return min(sec, limit)
}
