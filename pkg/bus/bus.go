// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package bus implements the in-process event bus every subsystem attaches
// to. Publishers fan events out to typed subscribers; handler errors are
// isolated and counted, never propagated back to the publisher.
//
// Ordering: events published for the same session are dispatched in publish
// order through a per-session queue. Across handlers of a single event,
// delivery is concurrent. Handlers registered as blocking run on a bounded
// worker pool so a slow flush never stalls the dispatch loop.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/internal/csync"
	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/schema"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler processes a single event. Errors are counted by the bus and do not
// affect other handlers or the publisher. Handlers must treat the event
// payload as read-only.
type Handler func(ctx context.Context, ev events.Event) error

// ValidationError reports a payload rejected by the schema registry at
// publish time. It is returned to the caller and never dispatched.
type ValidationError struct {
	EventType  string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %s failed validation: %v", e.EventType, e.Violations)
}

// Config configures the bus.
type Config struct {
	// Validator checks payloads at publish time. Optional; nil disables
	// schema validation.
	Validator *schema.Registry

	// Workers bounds the pool that runs blocking handlers. Default 8.
	Workers int

	// QueueSize bounds each per-session dispatch queue. Default 1024.
	QueueSize int

	// Logger for handler errors. Defaults to zap.NewNop().
	Logger *zap.Logger
}

type subscription struct {
	id        uint64
	eventType string
	handler   Handler
	blocking  bool
}

// Bus dispatches immutable events to typed subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription

	validator *schema.Registry
	logger    *zap.Logger

	pool      chan func()
	poolWG    sync.WaitGroup
	queueSize int

	sessions *csync.Map[string, *sessionQueue]

	nextID    atomic.Uint64
	published atomic.Uint64
	invoked   atomic.Uint64
	errors    atomic.Uint64

	closed atomic.Bool
}

// sessionQueue serializes dispatch for one session id.
type sessionQueue struct {
	ch   chan dispatchJob
	done chan struct{}
}

type dispatchJob struct {
	ev   events.Event
	done chan struct{} // non-nil for PublishAndWait
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &Bus{
		subs:      make(map[string][]*subscription),
		validator: cfg.Validator,
		logger:    cfg.Logger,
		pool:      make(chan func(), cfg.Workers*4),
		queueSize: cfg.QueueSize,
		sessions:  csync.NewMap[string, *sessionQueue](),
	}

	for i := 0; i < cfg.Workers; i++ {
		b.poolWG.Add(1)
		go func() {
			defer b.poolWG.Done()
			for task := range b.pool {
				task()
			}
		}()
	}

	return b
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithBlocking marks the handler as blocking (performs I/O). Blocking
// handlers are offloaded to the worker pool.
func WithBlocking() SubscribeOption {
	return func(s *subscription) { s.blocking = true }
}

// Subscribe registers a handler for an event type (or Wildcard for all).
// Returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) uint64 {
	sub := &subscription{
		id:        b.nextID.Add(1),
		eventType: eventType,
		handler:   handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub.id
}

// Unsubscribe removes a subscription by id. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish validates and enqueues an event for asynchronous dispatch.
// The publisher is never blocked on handler work; a full session queue
// applies backpressure. No subscribers for the event type is not an error.
func (b *Bus) Publish(ev events.Event) error {
	if err := b.check(ev); err != nil {
		return err
	}
	if err := b.enqueue(b.queueFor(ev.SessionID), dispatchJob{ev: ev}); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// PublishAndWait validates, dispatches through the same per-session ordered
// path as Publish, and blocks until every handler has run. Sequential calls
// from one caller therefore observe strict FIFO ordering, including with
// interleaved Publish calls for the same session.
func (b *Bus) PublishAndWait(ctx context.Context, ev events.Event) error {
	if err := b.check(ev); err != nil {
		return err
	}
	done := make(chan struct{})
	if err := b.enqueue(b.queueFor(ev.SessionID), dispatchJob{ev: ev, done: done}); err != nil {
		return err
	}
	b.published.Add(1)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errClosed is returned when an enqueue loses the race with Close.
var errClosed = fmt.Errorf("bus is closed")

// enqueue guards the channel send against a concurrent Close: a send on a
// just-closed session queue surfaces as errClosed instead of a panic.
func (b *Bus) enqueue(q *sessionQueue, job dispatchJob) (err error) {
	defer func() {
		if recover() != nil {
			err = errClosed
		}
	}()
	q.ch <- job
	return nil
}

func (b *Bus) check(ev events.Event) error {
	if ev.Type == "" {
		return fmt.Errorf("event type must not be empty")
	}
	if ev.SessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}
	if b.validator != nil {
		result := b.validator.Validate(ev.Type, ev.Payload)
		if !result.Valid {
			return &ValidationError{EventType: ev.Type, Violations: result.Violations}
		}
	}
	return nil
}

func (b *Bus) queueFor(sessionID string) *sessionQueue {
	return b.sessions.GetOrSet(sessionID, func() *sessionQueue {
		q := &sessionQueue{
			ch:   make(chan dispatchJob, b.queueSize),
			done: make(chan struct{}),
		}
		go func() {
			defer close(q.done)
			for job := range q.ch {
				b.dispatch(job.ev)
				if job.done != nil {
					close(job.done)
				}
			}
		}()
		return q
	})
}

// dispatch delivers one event to all matching handlers, concurrently, and
// waits for them all. Waiting keeps per-subscriber ordering within a session.
// The drain sentinel only flushes the queue; it never reaches a handler.
func (b *Bus) dispatch(ev events.Event) {
	if ev.Type == drainSentinel {
		return
	}
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs[ev.Type])+len(b.subs[Wildcard]))
	matched = append(matched, b.subs[ev.Type]...)
	matched = append(matched, b.subs[Wildcard]...)
	b.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range matched {
		wg.Add(1)
		run := func(s *subscription) func() {
			return func() {
				defer wg.Done()
				b.invoke(s, ev)
			}
		}(sub)

		if sub.blocking {
			b.pool <- run
		} else {
			go run()
		}
	}
	wg.Wait()
}

// invoke runs a single handler with panic isolation.
func (b *Bus) invoke(sub *subscription, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panicked",
				zap.String("event_type", ev.Type),
				zap.String("session_id", ev.SessionID),
				zap.Any("panic", r))
		}
	}()

	b.invoked.Add(1)
	if err := sub.handler(context.Background(), ev); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler failed",
			zap.String("event_type", ev.Type),
			zap.String("session_id", ev.SessionID),
			zap.Error(err))
	}
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	TotalEventsPublished uint64
	TotalHandlersInvoked uint64
	ErrorCount           uint64
	SubscriberCount      int
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	b.mu.RUnlock()

	return Stats{
		TotalEventsPublished: b.published.Load(),
		TotalHandlersInvoked: b.invoked.Load(),
		ErrorCount:           b.errors.Load(),
		SubscriberCount:      count,
	}
}

// Clear removes all subscriptions and resets counters. Intended for tests.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()
	b.published.Store(0)
	b.invoked.Store(0)
	b.errors.Store(0)
}

// Drain blocks until every event published so far has been dispatched.
func (b *Bus) Drain(ctx context.Context) error {
	queues := make([]*sessionQueue, 0, b.sessions.Len())
	for q := range b.sessions.Values() {
		queues = append(queues, q)
	}
	for _, q := range queues {
		flushed := make(chan struct{})
		sent, err := b.sendDrain(ctx, q, flushed)
		if err != nil {
			return err
		}
		if !sent {
			// Queue closed by Close; it was fully dispatched already.
			continue
		}
		select {
		case <-flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bus) sendDrain(ctx context.Context, q *sessionQueue, flushed chan struct{}) (sent bool, err error) {
	defer func() {
		if recover() != nil {
			sent, err = false, nil
		}
	}()
	select {
	case q.ch <- dispatchJob{ev: events.Event{Type: drainSentinel}, done: flushed}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// drainSentinel matches no subscriptions; it only flushes the queue.
const drainSentinel = "\x00drain"

// Close stops dispatch. Pending queued events are dispatched first.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range b.sessions.Seq2() {
		close(q.ch)
	}
	for _, q := range b.sessions.Seq2() {
		<-q.done
	}
	close(b.pool)
	b.poolWG.Wait()
}
