// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package healing keeps a per-target health state machine fed by periodic
// probes and reinitializes targets whose failures accumulate past the
// configured threshold.
package healing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/provider"
)

// State is the health classification of one target.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

// Event describes one state transition, delivered to registered handlers.
type Event struct {
	Target    string
	From      State
	To        State
	Detail    string
	Timestamp time.Time
}

// EventHandler receives state transition events. Handlers must not block.
type EventHandler func(Event)

// TargetStatus is the externally readable snapshot of one target.
type TargetStatus struct {
	Target       string    `json:"target"`
	State        State     `json:"state"`
	Failures     int       `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	LastProbe    time.Time `json:"last_probe"`
	LastRecovery time.Time `json:"last_recovery,omitempty"`
}

// probeTarget is the slice of the provider registry the controller needs.
// Satisfied by *provider.Registry.
type probeTarget interface {
	Names() []string
	HealthCheck(ctx context.Context, name string) (*provider.HealthReport, error)
	Reinitialize(ctx context.Context, name string) error
}

type targetState struct {
	state        State
	failures     int
	lastError    string
	lastProbe    time.Time
	lastRecovery time.Time
}

// Controller runs the probe loop and owns the per-target state machine.
type Controller struct {
	registry  probeTarget
	interval  time.Duration
	probeWait time.Duration
	threshold int

	mu       sync.RWMutex
	statuses map[string]*targetState
	handlers []EventHandler

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewController builds a controller over the given registry. Targets start
// HEALTHY; the first probe cycle corrects that optimism if needed.
func NewController(registry probeTarget, cfg config.HealingConfig) *Controller {
	interval := cfg.Interval.Std()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	probeWait := cfg.ProbeTimeout.Std()
	if probeWait <= 0 {
		probeWait = 10 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}

	c := &Controller{
		registry:  registry,
		interval:  interval,
		probeWait: probeWait,
		threshold: threshold,
		statuses:  make(map[string]*targetState),
	}
	for _, name := range registry.Names() {
		c.statuses[name] = &targetState{state: StateHealthy}
	}
	return c
}

// OnEvent registers a transition handler. Must be called before Start.
func (c *Controller) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Start launches the probe loop. An immediate first cycle runs before the
// ticker cadence takes over.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("healing controller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		c.ProbeAll(runCtx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.ProbeAll(runCtx)
			}
		}
	}()
	log.Infof("Self-healing controller started: interval=%s threshold=%d", c.interval, c.threshold)
	return nil
}

// Stop terminates the probe loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// ProbeAll runs one probe cycle over every known target.
func (c *Controller) ProbeAll(ctx context.Context) {
	for _, name := range c.registry.Names() {
		c.probe(ctx, name)
	}
}

// probe checks one target and advances its state machine. A healthy report
// resets the failure counter; a degraded report marks the target DEGRADED
// without counting toward the threshold; an error counts a failure and,
// once the count exceeds the threshold, triggers a reinitialization attempt.
func (c *Controller) probe(ctx context.Context, name string) {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeWait)
	report, err := c.registry.HealthCheck(probeCtx, name)
	cancel()

	c.mu.Lock()
	st, ok := c.statuses[name]
	if !ok {
		st = &targetState{state: StateHealthy}
		c.statuses[name] = st
	}
	st.lastProbe = time.Now()
	prev := st.state

	var event *Event
	switch {
	case err != nil:
		st.failures++
		st.lastError = err.Error()
		st.state = StateFailed
		if prev != StateFailed {
			event = &Event{Target: name, From: prev, To: StateFailed, Detail: err.Error(), Timestamp: st.lastProbe}
		}
		log.Warnf("Health probe failed for %s (%d/%d): %v", name, st.failures, c.threshold, err)
	case report != nil && !report.Ready:
		st.failures++
		st.lastError = report.Detail
		st.state = StateFailed
		if prev != StateFailed {
			event = &Event{Target: name, From: prev, To: StateFailed, Detail: report.Detail, Timestamp: st.lastProbe}
		}
		log.Warnf("Health probe reports %s not ready (%d/%d): %s", name, st.failures, c.threshold, report.Detail)
	case report != nil && report.Degraded:
		st.state = StateDegraded
		if prev != StateDegraded {
			event = &Event{Target: name, From: prev, To: StateDegraded, Detail: report.Detail, Timestamp: st.lastProbe}
		}
	default:
		st.failures = 0
		st.lastError = ""
		st.state = StateHealthy
		if prev != StateHealthy {
			event = &Event{Target: name, From: prev, To: StateHealthy, Timestamp: st.lastProbe}
		}
	}

	needsRecovery := st.state == StateFailed && st.failures > c.threshold
	c.mu.Unlock()

	if event != nil {
		c.emit(*event)
	}
	if needsRecovery {
		c.recover(ctx, name)
	}
}

// recover reinitializes a target whose failure count crossed the threshold.
// Success returns it to HEALTHY with a cleared counter; failure leaves it
// FAILED so the next cycle tries again.
func (c *Controller) recover(ctx context.Context, name string) {
	log.Infof("Attempting recovery of %s", name)
	recCtx, cancel := context.WithTimeout(ctx, c.probeWait)
	err := c.registry.Reinitialize(recCtx, name)
	cancel()

	c.mu.Lock()
	st := c.statuses[name]
	now := time.Now()
	var event *Event
	if err != nil {
		st.lastError = err.Error()
		log.Errorf("Recovery of %s failed: %v", name, err)
	} else {
		st.state = StateHealthy
		st.failures = 0
		st.lastError = ""
		st.lastRecovery = now
		event = &Event{Target: name, From: StateFailed, To: StateHealthy, Detail: "reinitialized", Timestamp: now}
		log.Infof("Recovered %s", name)
	}
	c.mu.Unlock()

	if event != nil {
		c.emit(*event)
	}
}

// AvailableTargets returns every target not currently FAILED. DEGRADED
// targets remain routable at reduced preference.
func (c *Controller) AvailableTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.statuses))
	for name, st := range c.statuses {
		if st.state != StateFailed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// StateOf reports the current state of one target.
func (c *Controller) StateOf(name string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[name]
	if !ok {
		return "", false
	}
	return st.state, true
}

// Snapshot returns a copy of every target's status for the transport layer.
func (c *Controller) Snapshot() []TargetStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TargetStatus, 0, len(c.statuses))
	for name, st := range c.statuses {
		out = append(out, TargetStatus{
			Target:       name,
			State:        st.state,
			Failures:     st.failures,
			LastError:    st.lastError,
			LastProbe:    st.lastProbe,
			LastRecovery: st.lastRecovery,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func (c *Controller) emit(ev Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
