// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/config"
)

// State is the lifecycle state of a registered provider.
type State string

const (
	// StateUninitialized means the provider is registered but Initialize has
	// not yet succeeded.
	StateUninitialized State = "uninitialized"

	// StateReady means the provider accepted Initialize and can serve calls.
	StateReady State = "ready"

	// StateFailed means the last Initialize attempt failed.
	StateFailed State = "failed"
)

// ErrUnknownProvider indicates a call referenced a provider name that is not
// registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrBatchingUnsupported indicates a batch call was issued to a provider
// without the batching capability.
var ErrBatchingUnsupported = errors.New("provider does not support batching")

const defaultCallTimeout = 30 * time.Second

// handle is the registry-owned record for one provider. It never leaves the
// registry; callers work with names.
type handle struct {
	impl             Provider
	batch            BatchExecutor
	supportsBatching bool
	timeout          time.Duration
	params           string
	state            State
}

// Registry owns the provider handles, their capability flags and lifecycle
// state. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*handle)}
}

// Register adds a provider with the given static configuration and attempts
// its initialization. A ConfigError or failed Initialize marks only this
// provider; it never aborts the caller.
func (r *Registry) Register(ctx context.Context, impl Provider, cfg config.ProviderConfig) error {
	if impl == nil {
		return &ConfigError{Provider: cfg.Name, Reason: "nil implementation"}
	}
	name := impl.Name()
	if name == "" {
		return &ConfigError{Provider: cfg.Name, Reason: "empty provider name"}
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	h := &handle{
		impl:    impl,
		timeout: timeout,
		params:  cfg.Params,
		state:   StateUninitialized,
	}
	if be, ok := impl.(BatchExecutor); ok {
		h.batch = be
		h.supportsBatching = true
	}

	r.mu.Lock()
	if _, exists := r.handles[name]; exists {
		r.mu.Unlock()
		return &ConfigError{Provider: name, Reason: "duplicate registration"}
	}
	r.handles[name] = h
	r.mu.Unlock()

	if err := impl.Initialize(ctx); err != nil {
		r.setState(name, StateFailed)
		log.Errorf("Provider %s failed to initialize: %v", name, err)
		return &Error{Provider: name, Op: "initialize", Err: err}
	}
	r.setState(name, StateReady)
	log.Infof("Provider %s registered (batching=%v, timeout=%s)", name, h.supportsBatching, timeout)
	return nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}

// State reports the lifecycle state of a provider.
func (r *Registry) State(name string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return "", ErrUnknownProvider
	}
	return h.state, nil
}

// SupportsBatching reports whether the provider accepts batch calls.
func (r *Registry) SupportsBatching(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return ok && h.supportsBatching
}

// Execute dispatches a single call to the named provider. The call is bounded
// by the provider's configured timeout; expiry is surfaced as a timeout
// *Error so breaker and health accounting can count it as a failure.
func (r *Registry) Execute(ctx context.Context, name string, req *Request) (*Result, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}

	callReq := *req
	callReq.Params = MergeParams(h.params, req.Params)

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.impl.Execute(callCtx, &callReq)
	if err != nil {
		return nil, &Error{
			Provider: name,
			Op:       "execute",
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}
	return res, nil
}

// ExecuteBatch dispatches one call carrying all prompts to the named
// provider. The provider must have the batching capability.
func (r *Registry) ExecuteBatch(ctx context.Context, name string, prompts []string, params string) ([]*Result, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if h.batch == nil {
		return nil, ErrBatchingUnsupported
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results, err := h.batch.ExecuteBatch(callCtx, prompts, MergeParams(h.params, params))
	if err != nil {
		return nil, &Error{
			Provider: name,
			Op:       "execute_batch",
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}
	return results, nil
}

// HealthCheck probes the named provider, bounded by its call timeout.
func (r *Registry) HealthCheck(ctx context.Context, name string) (*HealthReport, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report, err := h.impl.HealthCheck(callCtx)
	if err != nil {
		return nil, &Error{
			Provider: name,
			Op:       "health_check",
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}
	return report, nil
}

// Reinitialize re-runs Initialize for a provider that the self-healing
// controller marked failed. Success moves the handle back to ready.
func (r *Registry) Reinitialize(ctx context.Context, name string) error {
	h, err := r.get(name)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.impl.Initialize(callCtx); err != nil {
		r.setState(name, StateFailed)
		return &Error{Provider: name, Op: "initialize", Err: err}
	}
	r.setState(name, StateReady)
	return nil
}

func (r *Registry) get(name string) (*handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return h, nil
}

func (r *Registry) setState(name string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		h.state = state
	}
}
