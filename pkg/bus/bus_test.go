// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/schema"
)

func setupTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{Logger: zaptest.NewLogger(t)})
	t.Cleanup(b.Close)
	return b
}

func mustEvent(t *testing.T, eventType, sessionID string, payload map[string]any) events.Event {
	t.Helper()
	ev, err := events.New(eventType, sessionID, payload)
	require.NoError(t, err)
	return ev
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := setupTestBus(t)

	var mu sync.Mutex
	received := make(map[string]int)
	subscriber := func(name string) Handler {
		return func(_ context.Context, ev events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received[name]++
			return nil
		}
	}

	b.Subscribe(events.AgentCompleted, subscriber("logwriter"))
	b.Subscribe(events.AgentCompleted, subscriber("analytics"), WithBlocking())
	b.Subscribe(events.AgentCompleted, subscriber("trigger"))

	ev := mustEvent(t, events.AgentCompleted, "sess-1", map[string]any{
		"agent":       "code-reviewer",
		"tokens_used": 4200,
	})
	require.NoError(t, b.Publish(ev))
	require.NoError(t, b.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received["logwriter"])
	assert.Equal(t, 1, received["analytics"])
	assert.Equal(t, 1, received["trigger"])
}

func TestHandlerErrorDoesNotAffectOthers(t *testing.T) {
	b := setupTestBus(t)

	var healthy int
	var mu sync.Mutex
	b.Subscribe(events.ToolUsed, func(_ context.Context, _ events.Event) error {
		return fmt.Errorf("disk full")
	})
	b.Subscribe(events.ToolUsed, func(_ context.Context, _ events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		healthy++
		return nil
	})

	ev := mustEvent(t, events.ToolUsed, "sess-1", map[string]any{
		"tool":    "bash",
		"success": true,
	})
	require.NoError(t, b.PublishAndWait(context.Background(), ev))

	mu.Lock()
	assert.Equal(t, 1, healthy)
	mu.Unlock()

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.ErrorCount)
	assert.Equal(t, uint64(2), stats.TotalHandlersInvoked)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := setupTestBus(t)

	b.Subscribe(events.AgentFailed, func(_ context.Context, _ events.Event) error {
		panic("boom")
	})

	ev := mustEvent(t, events.AgentFailed, "sess-1", map[string]any{"agent": "builder"})
	require.NoError(t, b.PublishAndWait(context.Background(), ev))
	assert.Equal(t, uint64(1), b.Stats().ErrorCount)
}

func TestPerSessionOrderingPreserved(t *testing.T) {
	b := setupTestBus(t)

	var mu sync.Mutex
	var order []int
	b.Subscribe(events.ToolUsed, func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, ev.Int("seq"))
		return nil
	})

	const n = 200
	for i := 0; i < n; i++ {
		ev := mustEvent(t, events.ToolUsed, "sess-ordered", map[string]any{
			"tool":    "edit",
			"success": true,
			"seq":     i,
		})
		require.NoError(t, b.Publish(ev))
	}
	require.NoError(t, b.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestPublishAndWaitInterleavesWithPublish(t *testing.T) {
	b := setupTestBus(t)

	var mu sync.Mutex
	var order []int
	b.Subscribe(events.ToolUsed, func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, ev.Int("seq"))
		return nil
	})

	payload := func(seq int) map[string]any {
		return map[string]any{"tool": "bash", "success": true, "seq": seq}
	}
	require.NoError(t, b.Publish(mustEvent(t, events.ToolUsed, "s", payload(0))))
	require.NoError(t, b.Publish(mustEvent(t, events.ToolUsed, "s", payload(1))))
	require.NoError(t, b.PublishAndWait(context.Background(), mustEvent(t, events.ToolUsed, "s", payload(2))))

	// PublishAndWait returning means everything queued before it ran too.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestWildcardSubscription(t *testing.T) {
	b := setupTestBus(t)

	var mu sync.Mutex
	var seen []string
	b.Subscribe(Wildcard, func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
		return nil
	})

	require.NoError(t, b.PublishAndWait(context.Background(),
		mustEvent(t, events.AgentInvoked, "s", map[string]any{"agent": "planner"})))
	require.NoError(t, b.PublishAndWait(context.Background(),
		mustEvent(t, events.SessionStarted, "s", nil)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.AgentInvoked, events.SessionStarted}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := setupTestBus(t)

	var count int
	var mu sync.Mutex
	id := b.Subscribe(events.SessionStarted, func(_ context.Context, _ events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	require.NoError(t, b.PublishAndWait(context.Background(),
		mustEvent(t, events.SessionStarted, "s", nil)))
	b.Unsubscribe(id)
	require.NoError(t, b.PublishAndWait(context.Background(),
		mustEvent(t, events.SessionStarted, "s", nil)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	registry, err := schema.NewDefaultRegistry()
	require.NoError(t, err)
	b := New(Config{Validator: registry, Logger: zaptest.NewLogger(t)})
	t.Cleanup(b.Close)

	var delivered int
	var mu sync.Mutex
	b.Subscribe(events.ToolUsed, func(_ context.Context, _ events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		delivered++
		return nil
	})

	// Missing the required "success" field.
	ev := mustEvent(t, events.ToolUsed, "sess-1", map[string]any{"tool": "bash"})
	err = b.PublishAndWait(context.Background(), ev)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, events.ToolUsed, verr.EventType)
	assert.NotEmpty(t, verr.Violations)

	mu.Lock()
	assert.Equal(t, 0, delivered)
	mu.Unlock()
	assert.Equal(t, uint64(0), b.Stats().TotalEventsPublished)
}

func TestPublishRejectsEmptySessionID(t *testing.T) {
	b := setupTestBus(t)
	err := b.Publish(events.Event{Type: events.SessionStarted, Timestamp: time.Now()})
	require.Error(t, err)
}

func TestNoSubscribersIsNotAnError(t *testing.T) {
	b := setupTestBus(t)
	require.NoError(t, b.Publish(mustEvent(t, events.SnapshotCleanup, "s", nil)))
	require.NoError(t, b.Drain(context.Background()))
	assert.Equal(t, uint64(1), b.Stats().TotalEventsPublished)
}

func TestSessionsDispatchIndependently(t *testing.T) {
	b := setupTestBus(t)

	release := make(chan struct{})
	var fastDone sync.WaitGroup
	fastDone.Add(1)

	b.Subscribe(events.SessionStarted, func(_ context.Context, ev events.Event) error {
		if ev.SessionID == "slow" {
			<-release
		} else {
			fastDone.Done()
		}
		return nil
	})

	require.NoError(t, b.Publish(mustEvent(t, events.SessionStarted, "slow", nil)))
	require.NoError(t, b.Publish(mustEvent(t, events.SessionStarted, "fast", nil)))

	// The fast session must not wait behind the slow one.
	waitCh := make(chan struct{})
	go func() {
		fastDone.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("fast session blocked behind slow session")
	}
	close(release)
	require.NoError(t, b.Drain(context.Background()))
}

func TestClearResetsSubscribersAndStats(t *testing.T) {
	b := setupTestBus(t)
	b.Subscribe(events.ToolUsed, func(_ context.Context, _ events.Event) error { return nil })
	require.NoError(t, b.PublishAndWait(context.Background(),
		mustEvent(t, events.ToolUsed, "s", map[string]any{"tool": "bash", "success": true})))

	b.Clear()
	stats := b.Stats()
	assert.Equal(t, 0, stats.SubscriberCount)
	assert.Equal(t, uint64(0), stats.TotalEventsPublished)
	assert.Equal(t, uint64(0), stats.TotalHandlersInvoked)
}

func TestDrainIsInvisibleToWildcardSubscribers(t *testing.T) {
	b := setupTestBus(t)

	var mu sync.Mutex
	var seen []string
	b.Subscribe(Wildcard, func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
		return nil
	})

	require.NoError(t, b.Publish(mustEvent(t, events.AgentInvoked, "sess-1", map[string]any{"agent": "builder"})))
	require.NoError(t, b.Drain(context.Background()))
	require.NoError(t, b.Drain(context.Background())) // idle drain delivers nothing

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.AgentInvoked}, seen)
	assert.Equal(t, uint64(1), b.Stats().TotalHandlersInvoked)
}

func TestPublishRacingCloseDoesNotPanic(t *testing.T) {
	b := New(Config{Logger: zaptest.NewLogger(t)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				// Once Close lands, publishes turn into errors, never panics.
				_ = b.Publish(mustEvent(t, events.AgentInvoked, fmt.Sprintf("sess-%d", j%4), map[string]any{"agent": "builder"}))
			}
		}()
	}
	b.Close()
	wg.Wait()

	require.Error(t, b.Publish(mustEvent(t, events.AgentInvoked, "sess-1", map[string]any{"agent": "builder"})))
	require.Error(t, b.PublishAndWait(context.Background(), mustEvent(t, events.AgentInvoked, "sess-1", map[string]any{"agent": "builder"})))
	require.NoError(t, b.Drain(context.Background()), "drain after close is a no-op")
}
