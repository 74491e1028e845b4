// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/provider"
)

// fakeRegistry scripts per-target probe outcomes.
type fakeRegistry struct {
	mu       sync.Mutex
	names    []string
	reports  map[string]*provider.HealthReport
	errs     map[string]error
	reinit   map[string]error
	reinitCt map[string]int
}

func newFakeRegistry(names ...string) *fakeRegistry {
	return &fakeRegistry{
		names:    names,
		reports:  make(map[string]*provider.HealthReport),
		errs:     make(map[string]error),
		reinit:   make(map[string]error),
		reinitCt: make(map[string]int),
	}
}

func (f *fakeRegistry) Names() []string { return f.names }

func (f *fakeRegistry) HealthCheck(_ context.Context, name string) (*provider.HealthReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	if r, ok := f.reports[name]; ok {
		return r, nil
	}
	return &provider.HealthReport{Ready: true}, nil
}

func (f *fakeRegistry) Reinitialize(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinitCt[name]++
	return f.reinit[name]
}

func (f *fakeRegistry) setError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, name)
	} else {
		f.errs[name] = err
	}
}

func (f *fakeRegistry) reinitCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reinitCt[name]
}

func testHealingConfig() config.HealingConfig {
	return config.HealingConfig{
		Interval:         config.Duration(time.Hour),
		ProbeTimeout:     config.Duration(time.Second),
		FailureThreshold: 3,
	}
}

func TestProbeTransitionsStates(t *testing.T) {
	reg := newFakeRegistry("p1")
	c := NewController(reg, testHealingConfig())

	c.ProbeAll(context.Background())
	if st, _ := c.StateOf("p1"); st != StateHealthy {
		t.Fatalf("expected healthy, got %s", st)
	}

	reg.reports["p1"] = &provider.HealthReport{Ready: true, Degraded: true, Detail: "slow"}
	c.ProbeAll(context.Background())
	if st, _ := c.StateOf("p1"); st != StateDegraded {
		t.Fatalf("expected degraded, got %s", st)
	}

	reg.setError("p1", errors.New("connection refused"))
	c.ProbeAll(context.Background())
	if st, _ := c.StateOf("p1"); st != StateFailed {
		t.Fatalf("expected failed, got %s", st)
	}
}

func TestHealthyProbeResetsFailureCounter(t *testing.T) {
	reg := newFakeRegistry("p1")
	c := NewController(reg, testHealingConfig())

	reg.setError("p1", errors.New("boom"))
	c.ProbeAll(context.Background())
	c.ProbeAll(context.Background())

	reg.setError("p1", nil)
	c.ProbeAll(context.Background())
	if st, _ := c.StateOf("p1"); st != StateHealthy {
		t.Fatalf("expected healthy after clean probe, got %s", st)
	}

	// Three more failures reach but do not exceed the threshold: the clean
	// probe reset the counter.
	reg.setError("p1", errors.New("boom"))
	c.ProbeAll(context.Background())
	c.ProbeAll(context.Background())
	c.ProbeAll(context.Background())
	if n := reg.reinitCount("p1"); n != 0 {
		t.Errorf("reset counter must prevent recovery, got %d reinits", n)
	}
}

func TestThresholdTriggersRecovery(t *testing.T) {
	reg := newFakeRegistry("p1")
	c := NewController(reg, testHealingConfig())

	// Three failures reach the threshold; recovery fires only once it is
	// exceeded.
	reg.setError("p1", errors.New("down"))
	c.ProbeAll(context.Background())
	c.ProbeAll(context.Background())
	c.ProbeAll(context.Background())
	if n := reg.reinitCount("p1"); n != 0 {
		t.Fatalf("recovery must wait for the threshold to be exceeded, got %d reinits", n)
	}

	c.ProbeAll(context.Background())
	if n := reg.reinitCount("p1"); n != 1 {
		t.Fatalf("expected one recovery attempt, got %d", n)
	}
	if st, _ := c.StateOf("p1"); st != StateHealthy {
		t.Errorf("successful recovery must restore healthy, got %s", st)
	}
}

func TestFailedRecoveryStaysFailed(t *testing.T) {
	reg := newFakeRegistry("p1")
	reg.reinit["p1"] = errors.New("still down")
	c := NewController(reg, testHealingConfig())

	reg.setError("p1", errors.New("down"))
	for i := 0; i < 4; i++ {
		c.ProbeAll(context.Background())
	}
	if st, _ := c.StateOf("p1"); st != StateFailed {
		t.Errorf("failed recovery must leave target failed, got %s", st)
	}

	// The next cycle past the threshold retries recovery.
	c.ProbeAll(context.Background())
	if n := reg.reinitCount("p1"); n < 2 {
		t.Errorf("expected repeated recovery attempts, got %d", n)
	}
}

func TestAvailableTargetsExcludesFailed(t *testing.T) {
	reg := newFakeRegistry("p1", "p2", "p3")
	c := NewController(reg, testHealingConfig())

	reg.reports["p2"] = &provider.HealthReport{Ready: true, Degraded: true}
	reg.setError("p3", errors.New("gone"))
	c.ProbeAll(context.Background())

	got := c.AvailableTargets()
	want := []string{"p1", "p2"}
	if len(got) != len(want) {
		t.Fatalf("available = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("available = %v, want %v", got, want)
		}
	}
}

func TestEventsEmittedOnTransitions(t *testing.T) {
	reg := newFakeRegistry("p1")
	c := NewController(reg, testHealingConfig())

	var mu sync.Mutex
	var events []Event
	c.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	reg.setError("p1", errors.New("down"))
	c.ProbeAll(context.Background())
	reg.setError("p1", nil)
	c.ProbeAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 transition events, got %d", len(events))
	}
	if events[0].To != StateFailed || events[1].To != StateHealthy {
		t.Errorf("unexpected transitions: %+v", events)
	}
}

func TestSnapshotReflectsStatuses(t *testing.T) {
	reg := newFakeRegistry("a", "b")
	c := NewController(reg, testHealingConfig())

	reg.setError("b", errors.New("down"))
	c.ProbeAll(context.Background())

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(snap))
	}
	if snap[0].Target != "a" || snap[0].State != StateHealthy {
		t.Errorf("unexpected status for a: %+v", snap[0])
	}
	if snap[1].Target != "b" || snap[1].State != StateFailed || snap[1].Failures != 1 {
		t.Errorf("unexpected status for b: %+v", snap[1])
	}
	if snap[1].LastError == "" {
		t.Error("failed status must carry the last error")
	}
}

func TestStartRunsPeriodicProbes(t *testing.T) {
	reg := newFakeRegistry("p1")
	cfg := testHealingConfig()
	cfg.Interval = config.Duration(10 * time.Millisecond)
	c := NewController(reg, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}

	deadline := time.After(time.Second)
	for {
		if st, ok := c.StateOf("p1"); ok && st == StateHealthy {
			s := c.Snapshot()
			if !s[0].LastProbe.IsZero() {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("probe loop never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
