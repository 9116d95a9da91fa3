// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Default values.
const (
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultAckTimeout     = 10 * time.Second
	DefaultSessionExpiry  = 5 * 24 * time.Hour
	DefaultInboxSize      = 256
	DefaultWSPath         = "/mqtt"
)

// Transports.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Options configures a broker session.
type Options struct {
	// Connection
	Host           string        // Broker host name or IP
	Port           int           // Broker port
	Transport      string        // "tcp" or "ws"
	WSPath         string        // WebSocket request path, used when Transport is "ws"
	ClientID       string        // Client identifier
	Username       string        // Optional username
	Password       string        // Optional password
	ConnectTimeout time.Duration // Timeout for dial + CONNACK
	KeepAlive      time.Duration // Keep-alive interval (0 to disable)

	// Session
	CleanStart      bool          // Discard any existing broker-side session
	SessionExpiry   time.Duration // Session expiry interval (MQTT 5.0 only)
	ProtocolVersion byte          // 3 or 4 for MQTT 3.1/3.1.1, 5 for MQTT 5.0

	// InboxSize is the buffer of the channel returned by Session.Messages.
	InboxSize int

	Logger *slog.Logger
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Host:            "localhost",
		Port:            1883,
		Transport:       TransportTCP,
		WSPath:          DefaultWSPath,
		ProtocolVersion: 5,
		KeepAlive:       DefaultKeepAlive,
		ConnectTimeout:  DefaultConnectTimeout,
		SessionExpiry:   DefaultSessionExpiry,
		InboxSize:       DefaultInboxSize,
	}
}

// SetServer sets the broker address.
func (o *Options) SetServer(host string, port int) *Options {
	o.Host = host
	o.Port = port
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetCleanStart sets the clean start (clean session) flag.
func (o *Options) SetCleanStart(clean bool) *Options {
	o.CleanStart = clean
	return o
}

// SetProtocolVersion sets the MQTT protocol version.
func (o *Options) SetProtocolVersion(v byte) *Options {
	o.ProtocolVersion = v
	return o
}

// SetWebSocket switches the transport to WebSocket on the given path.
func (o *Options) SetWebSocket(path string) *Options {
	o.Transport = TransportWebSocket
	o.WSPath = path
	return o
}

// Validate checks the options and fills zero values with defaults.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrEmptyHost
	}
	if o.Port < 1 || o.Port > 65535 {
		return ErrInvalidPort
	}
	if o.ClientID == "" {
		return ErrEmptyClientID
	}
	switch o.ProtocolVersion {
	case 3, 4, 5:
	default:
		return ErrInvalidProtocol
	}
	switch o.Transport {
	case "":
		o.Transport = TransportTCP
	case TransportTCP, TransportWebSocket:
	default:
		return ErrInvalidTransport
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Address returns host:port.
func (o *Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// BrokerURL returns the broker URL for the configured transport.
func (o *Options) BrokerURL() string {
	if o.Transport == TransportWebSocket {
		path := o.WSPath
		if path == "" {
			path = DefaultWSPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return fmt.Sprintf("ws://%s%s", o.Address(), path)
	}
	return fmt.Sprintf("tcp://%s", o.Address())
}
