// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider defines the inference backend contract and the registry
// that owns backend handles. Backends are registered explicitly at startup
// from static configuration; every other component refers to a provider by
// name only and goes through the registry for calls.
package provider

import (
	"context"
	"fmt"
)

// Request is a single inference call.
type Request struct {
	// Prompt is the text submitted to the backend.
	Prompt string

	// Params is a raw JSON object of backend parameters. Provider-level
	// defaults from configuration are merged underneath before dispatch.
	Params string

	// RequestID correlates the call with the originating query.
	RequestID string
}

// Result is the outcome of a single inference call.
type Result struct {
	// Content is the produced text.
	Content string

	// Confidence is the backend's self-reported confidence, when available.
	Confidence float64

	// InputTokens and OutputTokens report usage as counted by the backend.
	// Zero values mean the backend does not report usage; callers estimate.
	InputTokens  int
	OutputTokens int

	// Model is the concrete model that served the call.
	Model string
}

// HealthReport is the result of a backend health probe.
type HealthReport struct {
	// Ready indicates the backend can serve requests.
	Ready bool

	// Degraded indicates the backend is serving but impaired.
	Degraded bool

	// Detail carries backend-specific diagnostics.
	Detail string
}

// Provider is the contract every inference backend implements.
type Provider interface {
	// Name returns the unique provider identifier.
	Name() string

	// Initialize prepares the backend for traffic. It is called once at
	// registration and again on self-healing reinitialization attempts.
	Initialize(ctx context.Context) error

	// Execute performs a single inference call.
	Execute(ctx context.Context, req *Request) (*Result, error)

	// HealthCheck probes the backend.
	HealthCheck(ctx context.Context) (*HealthReport, error)
}

// BatchExecutor is the optional capability interface for backends that accept
// several prompts in one call. Batching support is detected by a type check
// at registration, never by reflection scanning.
type BatchExecutor interface {
	// ExecuteBatch performs one call carrying all prompts and returns one
	// result per prompt, in prompt order.
	ExecuteBatch(ctx context.Context, prompts []string, params string) ([]*Result, error)
}

// Error is a failed provider call. It wraps the underlying cause and records
// whether the failure was a timeout, which feeds breaker, retry and health
// accounting.
type Error struct {
	Provider string
	Op       string
	Timeout  bool
	Err      error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %s: %s timed out: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError is a provider registration failure. It is fatal to that
// provider's registration only; the rest of the server keeps starting.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: invalid configuration: %s", e.Provider, e.Reason)
}
