// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Message is an inbound PUBLISH handed to the consumer.
// It is owned by the receiving worker and must not be retained after the
// handler returns.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Duplicate  bool
	PacketID   uint16
	ReceivedAt time.Time
}

// NewMessage creates a message stamped with the current time.
func NewMessage(topic string, payload []byte, qos byte, packetID uint16) *Message {
	return &Message{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		PacketID:   packetID,
		ReceivedAt: time.Now(),
	}
}
