// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package perf tracks provider performance and spend. The tracker keeps a
// rolling sample log feeding the load balancer and SLA router; the cost
// monitor keeps the per-period spend ledger feeding budget-aware routing.
package perf

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/store"
)

// maxHistory bounds the in-memory sample log. Samples rotated out are still
// in the ledger store for fingerprint replay.
const maxHistory = 10000

// Sample is one performance observation.
type Sample struct {
	Source      string
	Latency     time.Duration
	Success     bool
	Fingerprint string
	Timestamp   time.Time
}

// SourceMetrics aggregates the live window for one source.
type SourceMetrics struct {
	// RequestsPerSecond is the observed throughput over the live window.
	RequestsPerSecond float64

	// AvgLatency is the mean latency over the live window.
	AvgLatency time.Duration

	// ErrorRate is the failed fraction over the live window.
	ErrorRate float64
}

// SuccessRate is the complement of ErrorRate. The routers use it as the
// observed accuracy of a source.
func (m SourceMetrics) SuccessRate() float64 {
	return 1 - m.ErrorRate
}

// Tracker is a rolling log of performance samples. Appends are serialized by
// a single writer lock; this path is not latency-critical.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	fallback string
	history  []Sample
	ledger   *store.Store
	now      func() time.Time
}

// NewTracker creates a tracker with the given live window and fallback
// source. The ledger store is optional; when present every sample is also
// persisted for fingerprint replay across restarts.
func NewTracker(window time.Duration, fallbackSource string, ledger *store.Store) *Tracker {
	if window <= 0 {
		window = 60 * time.Second
	}
	if fallbackSource == "" {
		fallbackSource = "llm"
	}
	return &Tracker{
		window:   window,
		fallback: fallbackSource,
		ledger:   ledger,
		now:      time.Now,
	}
}

// Record appends one sample.
func (t *Tracker) Record(source string, latency time.Duration, success bool, fingerprint string) {
	t.mu.Lock()
	sample := Sample{
		Source:      source,
		Latency:     latency,
		Success:     success,
		Fingerprint: fingerprint,
		Timestamp:   t.now(),
	}
	t.history = append(t.history, sample)
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.mu.Unlock()

	if t.ledger != nil {
		err := t.ledger.AppendSample(context.Background(), &store.Sample{
			Timestamp:   sample.Timestamp,
			Source:      source,
			LatencyMs:   latency.Milliseconds(),
			Success:     success,
			Fingerprint: fingerprint,
		})
		if err != nil {
			log.Warnf("Failed to persist performance sample: %v", err)
		}
	}
}

// Metrics aggregates per-source throughput, latency and error rate over the
// live window.
func (t *Tracker) Metrics() map[string]SourceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	type agg struct {
		count    int
		failures int
		latency  time.Duration
	}
	byType := make(map[string]*agg)
	for _, s := range t.history {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		a := byType[s.Source]
		if a == nil {
			a = &agg{}
			byType[s.Source] = a
		}
		a.count++
		a.latency += s.Latency
		if !s.Success {
			a.failures++
		}
	}

	metrics := make(map[string]SourceMetrics, len(byType))
	for source, a := range byType {
		metrics[source] = SourceMetrics{
			RequestsPerSecond: float64(a.count) / t.window.Seconds(),
			AvgLatency:        a.latency / time.Duration(a.count),
			ErrorRate:         float64(a.failures) / float64(a.count),
		}
	}
	return metrics
}

// SourceMetricsFor returns the live-window metrics for one source and
// whether any samples exist for it.
func (t *Tracker) SourceMetricsFor(source string) (SourceMetrics, bool) {
	m, ok := t.Metrics()[source]
	return m, ok
}

// RecommendedSource picks the source for a query fingerprint. An exact prior
// successful match replays its source; otherwise sources are ranked by
// success rate with median latency as tie-break, and with no history at all
// the configured fallback source wins.
func (t *Tracker) RecommendedSource(ctx context.Context, fingerprint string) string {
	if fingerprint != "" {
		if source, ok := t.replaySource(ctx, fingerprint); ok {
			return source
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	type rank struct {
		successRate   float64
		medianLatency time.Duration
	}
	latencies := make(map[string][]time.Duration)
	successes := make(map[string]int)
	counts := make(map[string]int)
	for _, s := range t.history {
		counts[s.Source]++
		latencies[s.Source] = append(latencies[s.Source], s.Latency)
		if s.Success {
			successes[s.Source]++
		}
	}
	if len(counts) == 0 {
		return t.fallback
	}

	ranks := make(map[string]rank, len(counts))
	for source, count := range counts {
		ls := latencies[source]
		sort.Slice(ls, func(i, j int) bool { return ls[i] < ls[j] })
		ranks[source] = rank{
			successRate:   float64(successes[source]) / float64(count),
			medianLatency: ls[len(ls)/2],
		}
	}

	best := ""
	for source, r := range ranks {
		if best == "" {
			best = source
			continue
		}
		b := ranks[best]
		if r.successRate > b.successRate ||
			(r.successRate == b.successRate && r.medianLatency < b.medianLatency) {
			best = source
		}
	}
	return best
}

// ReplaySource returns the source of an exact prior successful fingerprint
// match, without falling back to ranking. Callers that must respect their
// own candidate set use this instead of RecommendedSource.
func (t *Tracker) ReplaySource(ctx context.Context, fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}
	return t.replaySource(ctx, fingerprint)
}

// replaySource looks for an exact prior fingerprint match, first in memory,
// then in the ledger store. Only a successful prior call is replayed.
func (t *Tracker) replaySource(ctx context.Context, fingerprint string) (string, bool) {
	t.mu.Lock()
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Fingerprint == fingerprint {
			s := t.history[i]
			t.mu.Unlock()
			return s.Source, s.Success
		}
	}
	t.mu.Unlock()

	if t.ledger == nil {
		return "", false
	}
	sample, err := t.ledger.LastSampleByFingerprint(ctx, fingerprint)
	if err != nil {
		log.Debugf("Fingerprint replay lookup failed: %v", err)
		return "", false
	}
	if sample == nil || !sample.Success {
		return "", false
	}
	return sample.Source, true
}
