// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/overload/client"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Identity names the worker a message was delivered to.
type Identity struct {
	ID       int
	ClientID string
}

// Handler processes inbound messages. It is called synchronously from the
// worker's consume loop, in arrival order, and must not block unboundedly.
// Handlers shared between workers must be safe for concurrent use.
type Handler interface {
	Handle(ctx context.Context, worker Identity, msg *client.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, worker Identity, msg *client.Message)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, worker Identity, msg *client.Message) {
	f(ctx, worker, msg)
}

// Payload formats.
const (
	FormatJSON = "json"
	FormatRaw  = "raw"
)

// Payload compressions.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

const maxPayloadSize = 16 << 20

var (
	ErrUnknownFormat      = errors.New("unknown payload format")
	ErrUnknownCompression = errors.New("unknown payload compression")
	ErrPayloadTooLarge    = errors.New("decompressed payload too large")
)

// Payload is the document published by the load generator.
type Payload struct {
	X         string `json:"X"`
	Value     string `json:"Value"`
	Processed string `json:"Processed"`
}

// LogHandlerConfig configures LogHandler.
type LogHandlerConfig struct {
	Format      string
	Compression string
	Level       slog.Level
}

// LogHandler logs one line per message and keeps a processed counter per
// worker.
type LogHandler struct {
	cfg      LogHandlerConfig
	logger   *slog.Logger
	zstd     *zstd.Decoder
	counters sync.Map // worker id -> *atomic.Int64
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(cfg LogHandlerConfig, logger *slog.Logger) (*LogHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}

	h := &LogHandler{cfg: cfg, logger: logger}

	switch cfg.Format {
	case FormatJSON, FormatRaw:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
	}

	switch cfg.Compression {
	case CompressionNone, CompressionGzip:
	case CompressionZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
		if err != nil {
			return nil, err
		}
		h.zstd = dec
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, cfg.Compression)
	}

	return h, nil
}

// Handle implements Handler.
func (h *LogHandler) Handle(ctx context.Context, worker Identity, msg *client.Message) {
	n := h.counter(worker.ID).Add(1)

	attrs := []slog.Attr{
		slog.Int("worker", worker.ID),
		slog.String("client_id", worker.ClientID),
		slog.Int64("processed", n),
		slog.String("topic", msg.Topic),
		slog.Int("packet_id", int(msg.PacketID)),
		slog.Int("size", len(msg.Payload)),
		slog.Time("received_at", msg.ReceivedAt),
	}

	body, err := h.decompress(msg.Payload)
	if err != nil {
		h.logger.LogAttrs(ctx, slog.LevelWarn, "payload_decode_failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	switch h.cfg.Format {
	case FormatJSON:
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "payload_decode_failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		attrs = append(attrs,
			slog.String("x", p.X),
			slog.String("value", p.Value),
			slog.String("published", p.Processed))
		if sent, err := time.Parse(time.RFC3339Nano, p.Value); err == nil && !msg.ReceivedAt.IsZero() {
			attrs = append(attrs, slog.Duration("latency", msg.ReceivedAt.Sub(sent)))
		}
	case FormatRaw:
		attrs = append(attrs, slog.String("payload", string(body)))
	}

	h.logger.LogAttrs(ctx, h.cfg.Level, "message_processed", attrs...)
}

// Processed returns the number of messages handled for a worker.
func (h *LogHandler) Processed(worker int) int64 {
	if c, ok := h.counters.Load(worker); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// Close releases decoder resources.
func (h *LogHandler) Close() {
	if h.zstd != nil {
		h.zstd.Close()
	}
}

func (h *LogHandler) counter(worker int) *atomic.Int64 {
	if c, ok := h.counters.Load(worker); ok {
		return c.(*atomic.Int64)
	}
	c, _ := h.counters.LoadOrStore(worker, new(atomic.Int64))
	return c.(*atomic.Int64)
}

func (h *LogHandler) decompress(b []byte) ([]byte, error) {
	switch h.cfg.Compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxPayloadSize+1))
		if err != nil {
			return nil, err
		}
		if len(out) > maxPayloadSize {
			return nil, ErrPayloadTooLarge
		}
		return out, nil
	case CompressionZstd:
		return h.zstd.DecodeAll(b, nil)
	default:
		return b, nil
	}
}
