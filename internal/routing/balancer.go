// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/perf"
)

// ErrNoAvailableProvider indicates every provider is excluded from routing.
var ErrNoAvailableProvider = errors.New("no available provider")

// historySize bounds the retained routing decisions.
const historySize = 100

// BalancerDecision is one retained load balancer pick.
type BalancerDecision struct {
	Content   string
	Provider  string
	Timestamp time.Time
}

// LoadBalancer converts tracker metrics into selection weights and picks
// providers by weighted random choice. Weights are recomputed periodically,
// not per request; routing under a stale snapshot is accepted.
type LoadBalancer struct {
	tracker *perf.Tracker
	avail   Availability

	mu             sync.Mutex
	weights        map[string]float64
	history        []BalancerDecision
	sinceRecompute int
	rng            *rand.Rand

	interval   time.Duration
	minSamples int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoadBalancer creates a load balancer. interval is the period of the
// background weight recompute loop; minSamples is the number of decisions
// since the last recompute required before the next one takes effect.
func NewLoadBalancer(tracker *perf.Tracker, avail Availability, interval time.Duration, minSamples int) *LoadBalancer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if minSamples <= 0 {
		minSamples = 20
	}
	return &LoadBalancer{
		tracker:    tracker,
		avail:      avail,
		weights:    make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		interval:   interval,
		minSamples: minSamples,
	}
}

// UpdateWeights recomputes the selection weights from the live metrics:
// weight(p) is proportional to throughput(p)/(latency(p)+epsilon), normalized
// so all weights sum to 1.
func (b *LoadBalancer) UpdateWeights() {
	metrics := b.tracker.Metrics()

	raw := make(map[string]float64, len(metrics))
	total := 0.0
	for name, m := range metrics {
		score := m.RequestsPerSecond / (m.AvgLatency.Seconds() + 1e-6)
		raw[name] = score
		total += score
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if total <= 0 {
		// No usable metrics: drop to the uniform fallback applied at
		// selection time.
		b.weights = make(map[string]float64)
	} else {
		weights := make(map[string]float64, len(raw))
		for name, score := range raw {
			weights[name] = score / total
		}
		b.weights = weights
	}
	b.sinceRecompute = 0
	log.Debugf("Load balancer weights updated: %v", b.weights)
}

// SelectProvider picks an available provider by weighted random choice.
// Providers excluded from routing never win, even when the stale weight
// snapshot still carries them; with no usable weights the pick is uniform.
func (b *LoadBalancer) SelectProvider(content string) (string, error) {
	available := b.avail.AvailableTargets()
	if len(available) == 0 {
		return "", ErrNoAvailableProvider
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	weights := make([]float64, len(available))
	total := 0.0
	for i, name := range available {
		weights[i] = b.weights[name]
		total += weights[i]
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	pick := available[len(available)-1]
	roll := b.rng.Float64() * total
	for i, name := range available {
		roll -= weights[i]
		if roll < 0 {
			pick = name
			break
		}
	}

	b.recordDecisionLocked(content, pick)
	return pick, nil
}

// History returns a copy of the retained routing decisions, newest last.
func (b *LoadBalancer) History() []BalancerDecision {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BalancerDecision, len(b.history))
	copy(out, b.history)
	return out
}

// Weights returns a copy of the current weight snapshot.
func (b *LoadBalancer) Weights() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.weights))
	for k, v := range b.weights {
		out[k] = v
	}
	return out
}

// Start launches the background weight recompute loop. Each tick recomputes
// only when enough decisions accumulated since the last recompute.
func (b *LoadBalancer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.mu.Lock()
				ready := b.sinceRecompute >= b.minSamples
				b.mu.Unlock()
				if ready {
					b.UpdateWeights()
				}
			}
		}
	}()
}

// Stop terminates the background loop.
func (b *LoadBalancer) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

func (b *LoadBalancer) recordDecisionLocked(content, providerName string) {
	if len(content) > 50 {
		content = content[:50]
	}
	b.history = append(b.history, BalancerDecision{
		Content:   content,
		Provider:  providerName,
		Timestamp: time.Now(),
	})
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	b.sinceRecompute++
}
