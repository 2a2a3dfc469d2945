// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package schema validates event payloads against per-type JSON schemas.
//
// Each event type may register a declarative JSON-schema document. Payloads
// for types without a schema are accepted but flagged as unvalidated, which
// keeps the bus forward-compatible with event types added by adapters.
// The registry is populated at startup and effectively immutable afterwards.
package schema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Result is the outcome of validating a payload.
type Result struct {
	// Valid is true when the payload satisfies the schema (or no schema
	// exists for the type).
	Valid bool

	// Unvalidated is true when no schema is registered for the event type.
	Unvalidated bool

	// Violations lists human-readable schema violations when Valid is false.
	Violations []string
}

// Registry holds compiled schemas keyed by event type.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// NewDefaultRegistry creates a registry pre-loaded with the schemas for the
// core event types.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for eventType, doc := range builtinSchemas {
		if err := r.Register(eventType, doc); err != nil {
			return nil, fmt.Errorf("register schema for %s: %w", eventType, err)
		}
	}
	return r, nil
}

// Register compiles and stores a JSON-schema document for an event type.
// Re-registering a type replaces the previous schema.
func (r *Registry) Register(eventType, schemaJSON string) error {
	if eventType == "" {
		return fmt.Errorf("event type must not be empty")
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[eventType] = compiled
	return nil
}

// Validate checks a payload against the schema for eventType.
func (r *Registry) Validate(eventType string, payload map[string]any) Result {
	r.mu.RLock()
	compiled, ok := r.schemas[eventType]
	r.mu.RUnlock()

	if !ok {
		return Result{Valid: true, Unvalidated: true}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	outcome, err := compiled.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return Result{Violations: []string{err.Error()}}
	}
	if !outcome.Valid() {
		violations := make([]string, len(outcome.Errors()))
		for i, verr := range outcome.Errors() {
			violations[i] = verr.String()
		}
		return Result{Violations: violations}
	}
	return Result{Valid: true}
}

// Has reports whether a schema is registered for the event type.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[eventType]
	return ok
}
