// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/absmach/overload/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/overload/consumer"

// Status is the terminal outcome of a worker.
type Status uint8

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusOf classifies a worker's terminal error.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// WorkerConfig holds per-worker parameters.
type WorkerConfig struct {
	ID       int
	ClientID string
	// Topics is shared read-only between workers.
	Topics []string
	QoS    byte
	// AckTimeout bounds each subscribe, unsubscribe and disconnect.
	// Zero means no per-operation bound.
	AckTimeout time.Duration
	// Duration ends the consume loop normally after it elapses. Zero means
	// consume until cancelled.
	Duration time.Duration
	// MaxMessages ends the consume loop normally after that many messages.
	// Zero means no limit.
	MaxMessages int64
	// Session is the connection template; ClientID is overwritten.
	Session client.Options
}

// Result is the terminal report of a worker.
type Result struct {
	ID         int
	ClientID   string
	Status     Status
	Err        error
	Errors     []error
	Subscribed []string
	Attempted  int
	Received   int64
	Unmatched  int64
	Duration   time.Duration
}

// WorkerStatus is a live view of a worker.
type WorkerStatus struct {
	ID         int    `json:"id"`
	ClientID   string `json:"client_id"`
	State      string `json:"state"`
	Subscribed int    `json:"subscribed"`
	Received   int64  `json:"received"`
}

// Worker owns one broker session: it connects, subscribes to every topic,
// consumes until cancelled and then unsubscribes and disconnects.
type Worker struct {
	cfg        WorkerConfig
	newSession client.Factory
	handler    Handler
	limiter    Limiter
	recorder   Recorder
	logger     *slog.Logger
	tracer     trace.Tracer

	state     *stateManager
	subs      *subscriptionSet
	received  atomic.Int64
	unmatched atomic.Int64
	attempted int
	errs      []error
	start     time.Time
}

// NewWorker creates a worker. Nil limiter, recorder and logger are allowed.
func NewWorker(cfg WorkerConfig, factory client.Factory, handler Handler, limiter Limiter, recorder Recorder, logger *slog.Logger) *Worker {
	if factory == nil {
		factory = client.New
	}
	if handler == nil {
		handler = HandlerFunc(func(context.Context, Identity, *client.Message) {})
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Session.ClientID = cfg.ClientID

	return &Worker{
		cfg:        cfg,
		newSession: factory,
		handler:    handler,
		limiter:    limiter,
		recorder:   recorder,
		logger:     logger.With(slog.Int("worker", cfg.ID), slog.String("client_id", cfg.ClientID)),
		tracer:     otel.Tracer(tracerName),
		state:      newStateManager(),
		subs:       newSubscriptionSet(),
	}
}

// ID returns the worker index.
func (w *Worker) ID() int {
	return w.cfg.ID
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state.get()
}

// Status returns a live view of the worker.
func (w *Worker) Status() WorkerStatus {
	return WorkerStatus{
		ID:         w.cfg.ID,
		ClientID:   w.cfg.ClientID,
		State:      w.state.get().String(),
		Subscribed: w.subs.len(),
		Received:   w.received.Load(),
	}
}

// Run executes the worker lifecycle and blocks until the worker is closed.
// A worker is single-use.
func (w *Worker) Run(ctx context.Context) (res Result) {
	w.start = time.Now()
	var sess client.Session

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker_panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res.Err = w.opError(ErrUnexpected, "run", "", fmt.Errorf("panic: %v", r))
		}
		w.disconnect(ctx, sess)
		w.state.set(StateClosed)
		w.finish(ctx, &res)
	}()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			res.Err = w.opError(ErrCancelled, "connect", "", ctxErr(ctx, err))
			return res
		}
	}

	w.state.transition(StateDisconnected, StateConnecting)
	s, err := w.newSession(w.cfg.Session)
	if err != nil {
		res.Err = w.opError(ErrConnection, "connect", "", err)
		w.logger.Error("connect_failed", slog.String("error", err.Error()))
		return res
	}
	sess = s

	if err := w.connect(ctx, sess); err != nil {
		res.Err = err
		return res
	}

	err = w.subscribeAll(ctx, sess)
	if err == nil {
		err = w.listen(ctx, sess)
	}

	w.state.transitionFrom(StateShuttingDown, StateSubscribing, StateListening)
	w.unsubscribeAll(ctx, sess)

	res.Err = err
	return res
}

func (w *Worker) connect(ctx context.Context, sess client.Session) error {
	ctx, span := w.tracer.Start(ctx, "mqtt.connect", trace.WithAttributes(
		attribute.String("client_id", w.cfg.ClientID),
		attribute.String("broker", w.cfg.Session.BrokerURL())))
	defer span.End()

	start := time.Now()
	res, err := sess.Connect(ctx)
	w.recorder.RecordConnect(ctx, time.Since(start), err)

	if err != nil {
		endSpan(span, err)
		if ctx.Err() != nil {
			return w.opError(ErrCancelled, "connect", "", ctxErr(ctx, err))
		}
		w.logger.Error("connect_failed",
			slog.String("broker", w.cfg.Session.BrokerURL()),
			slog.String("error", err.Error()))
		return w.opError(ErrConnection, "connect", "", err)
	}

	w.state.transition(StateConnecting, StateConnected)
	w.logger.Info("connected",
		slog.String("host", w.cfg.Session.Host),
		slog.Int("port", w.cfg.Session.Port),
		slog.Bool("session_present", res.SessionPresent))
	return nil
}

// subscribeAll subscribes to each topic in order. Individual failures are
// recorded and skipped; only cancellation stops the loop early.
func (w *Worker) subscribeAll(ctx context.Context, sess client.Session) error {
	w.state.transition(StateConnected, StateSubscribing)

	for _, topic := range w.cfg.Topics {
		if err := ctx.Err(); err != nil {
			return w.opError(ErrCancelled, "subscribe", topic, err)
		}

		w.attempted++
		err := w.subscribe(ctx, sess, topic)
		if err == nil {
			w.subs.add(topic)
			w.logger.Info("subscribed",
				slog.String("topic", topic),
				slog.Duration("elapsed", time.Since(w.start)))
			continue
		}

		if ctx.Err() != nil {
			return w.opError(ErrCancelled, "subscribe", topic, ctxErr(ctx, err))
		}
		oe := w.opError(ErrSubscription, "subscribe", topic, err)
		w.errs = append(w.errs, oe)
		w.logger.Warn("subscribe_failed",
			slog.String("topic", topic),
			slog.Bool("rejected", client.IsProtocolError(err)),
			slog.String("error", err.Error()))
	}

	w.logger.Info("subscriptions_completed",
		slog.Int("subscribed", w.subs.len()),
		slog.Int("attempted", w.attempted),
		slog.Duration("duration", time.Since(w.start)))
	return nil
}

func (w *Worker) subscribe(ctx context.Context, sess client.Session, topic string) error {
	ctx, span := w.tracer.Start(ctx, "mqtt.subscribe", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, w.cfg.AckTimeout)
	defer cancel()

	start := time.Now()
	err := sess.Subscribe(ctx, topic, w.cfg.QoS)
	w.recorder.RecordSubscribe(ctx, time.Since(start), err)
	endSpan(span, err)
	return err
}

// listen hands inbound messages to the handler until cancellation,
// connection loss or a configured limit.
func (w *Worker) listen(ctx context.Context, sess client.Session) error {
	w.state.transition(StateSubscribing, StateListening)

	var deadline <-chan time.Time
	if w.cfg.Duration > 0 {
		t := time.NewTimer(w.cfg.Duration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("listen_cancelled", slog.Any("cause", context.Cause(ctx)))
			return w.opError(ErrCancelled, "listen", "", ctx.Err())
		case <-sess.Lost():
			err := sess.Err()
			w.logger.Error("connection_lost", slog.Any("error", err))
			return w.opError(ErrUnexpected, "listen", "", err)
		case <-deadline:
			w.logger.Info("listen_duration_elapsed", slog.Duration("duration", w.cfg.Duration))
			return nil
		case msg := <-sess.Messages():
			if err := w.handle(ctx, msg); err != nil {
				return err
			}
			if w.cfg.MaxMessages > 0 && w.received.Load() >= w.cfg.MaxMessages {
				w.logger.Info("message_limit_reached", slog.Int64("received", w.received.Load()))
				return nil
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *client.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler_panic",
				slog.String("topic", msg.Topic),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = w.opError(ErrUnexpected, "handle", msg.Topic, fmt.Errorf("handler panic: %v", r))
		}
	}()

	w.received.Add(1)
	if !w.subs.match(msg.Topic) {
		// Persistent sessions may replay topics from an earlier run.
		w.unmatched.Add(1)
		w.logger.Debug("message_outside_subscriptions", slog.String("topic", msg.Topic))
	}
	w.recorder.RecordMessage(ctx, msg.Topic, len(msg.Payload))

	w.handler.Handle(ctx, Identity{ID: w.cfg.ID, ClientID: w.cfg.ClientID}, msg)
	return nil
}

// unsubscribeAll runs after cancellation, so each call gets a fresh
// timeout detached from ctx.
func (w *Worker) unsubscribeAll(ctx context.Context, sess client.Session) {
	held := w.subs.snapshot()
	if len(held) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, topic := range held {
		err := w.unsubscribe(ctx, sess, topic)
		if err != nil {
			oe := w.opError(ErrUnsubscription, "unsubscribe", topic, err)
			w.errs = append(w.errs, oe)
			w.logger.Warn("unsubscribe_failed",
				slog.String("topic", topic),
				slog.Bool("rejected", client.IsProtocolError(err)),
				slog.String("error", err.Error()))
			continue
		}
		w.subs.remove(topic)
		w.logger.Info("unsubscribed",
			slog.String("topic", topic),
			slog.Duration("elapsed", time.Since(w.start)))
	}
}

func (w *Worker) unsubscribe(ctx context.Context, sess client.Session, topic string) error {
	ctx, span := w.tracer.Start(ctx, "mqtt.unsubscribe", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, w.cfg.AckTimeout)
	defer cancel()

	start := time.Now()
	err := sess.Unsubscribe(ctx, topic)
	w.recorder.RecordUnsubscribe(ctx, time.Since(start), err)
	endSpan(span, err)
	return err
}

func (w *Worker) disconnect(ctx context.Context, sess client.Session) {
	if sess == nil {
		return
	}

	ctx, cancel := withTimeout(context.WithoutCancel(ctx), w.cfg.AckTimeout)
	defer cancel()

	if err := sess.Disconnect(ctx); err != nil {
		w.logger.Warn("disconnect_failed", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("disconnected",
		slog.String("host", w.cfg.Session.Host),
		slog.Int("port", w.cfg.Session.Port))
}

func (w *Worker) finish(ctx context.Context, res *Result) {
	res.ID = w.cfg.ID
	res.ClientID = w.cfg.ClientID
	res.Status = StatusOf(res.Err)
	res.Errors = w.errs
	res.Subscribed = w.subs.snapshot()
	res.Attempted = w.attempted
	res.Received = w.received.Load()
	res.Unmatched = w.unmatched.Load()
	res.Duration = time.Since(w.start)

	w.recorder.RecordWorkerExit(context.WithoutCancel(ctx), res.Status)

	attrs := []any{
		slog.String("status", res.Status.String()),
		slog.Int("subscribed", len(res.Subscribed)),
		slog.Int64("received", res.Received),
		slog.Duration("duration", res.Duration),
	}
	if res.Status == StatusFailed {
		w.logger.Error("worker_stopped", append(attrs, slog.String("error", res.Err.Error()))...)
		return
	}
	w.logger.Info("worker_stopped", attrs...)
}

func (w *Worker) opError(kind error, op, topic string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Worker: w.cfg.ID, Topic: topic, Err: err}
}

// ctxErr prefers the context error so callers can match context.Canceled.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return cerr
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
