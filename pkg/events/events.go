// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package events defines the immutable event record that flows across the
// subagent bus, together with the closed registry of event types.
//
// Every observable activity in the control plane — agent invocations, tool
// calls, snapshots, cost updates — is expressed as an Event and published on
// the bus. Handlers receive events by value and must treat the payload as
// read-only; use Clone before mutating.
package events

import (
	"fmt"
	"time"
)

// Event is an immutable record of something that happened.
type Event struct {
	// Type is the dotted event type name, from the closed registry.
	Type string `json:"event_type"`

	// Timestamp is the UTC instant the event was created.
	Timestamp time.Time `json:"timestamp"`

	// SessionID scopes the event to a session. Never empty.
	SessionID string `json:"session_id"`

	// TraceID correlates related events (e.g. all events of one workflow).
	TraceID string `json:"trace_id,omitempty"`

	// Payload carries type-specific fields. Shape is fixed by the event
	// type's schema. Read-only for handlers.
	Payload map[string]any `json:"payload,omitempty"`
}

// New creates an event with the current UTC timestamp.
// Returns an error if the type is empty, unregistered, or sessionID is empty.
func New(eventType, sessionID string, payload map[string]any) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("event type must not be empty")
	}
	if !Registered(eventType) {
		return Event{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	if sessionID == "" {
		return Event{}, fmt.Errorf("session id must not be empty")
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Payload:   payload,
	}, nil
}

// WithTrace returns a copy of the event with the trace id set.
func (e Event) WithTrace(traceID string) Event {
	e.TraceID = traceID
	return e
}

// Clone returns a deep copy of the event with an independent payload map.
func (e Event) Clone() Event {
	if e.Payload == nil {
		return e
	}
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	e.Payload = payload
	return e
}

// String returns the payload value for key as a string, or "" if absent.
func (e Event) String(key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Int returns the payload value for key as an int, or 0 if absent or not
// numeric. JSON round-trips deliver numbers as float64.
func (e Event) Int(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float returns the payload value for key as a float64, or 0 if absent.
func (e Event) Float(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the payload value for key as a bool, or false if absent.
func (e Event) Bool(key string) bool {
	if v, ok := e.Payload[key].(bool); ok {
		return v
	}
	return false
}
