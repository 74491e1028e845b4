// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package perf

import (
	"context"
	"testing"
	"time"
)

func TestFingerprintStableUnderNormalization(t *testing.T) {
	a := Fingerprint("  print('hi')  ", "debug", []string{"b", "a"})
	b := Fingerprint("print('hi')", "debug", []string{"a", "b"})
	if a != b {
		t.Error("fingerprint should ignore whitespace and context order")
	}

	c := Fingerprint("print('hi')", "generate", []string{"a", "b"})
	if a == c {
		t.Error("different intent must change the fingerprint")
	}
}

func TestMetricsAggregatesLiveWindow(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Record("vllm", 100*time.Millisecond, true, "")
	tr.Record("vllm", 300*time.Millisecond, false, "")
	tr.Record("llama2", 50*time.Millisecond, true, "")

	metrics := tr.Metrics()
	vllm := metrics["vllm"]
	if vllm.ErrorRate != 0.5 {
		t.Errorf("expected vllm error rate 0.5, got %v", vllm.ErrorRate)
	}
	if vllm.AvgLatency != 200*time.Millisecond {
		t.Errorf("expected vllm avg latency 200ms, got %v", vllm.AvgLatency)
	}
	if metrics["llama2"].SuccessRate() != 1.0 {
		t.Errorf("expected llama2 success rate 1.0")
	}
}

func TestMetricsAgesOutOldSamples(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)
	base := time.Now()

	tr.now = func() time.Time { return base.Add(-2 * time.Minute) }
	tr.Record("vllm", 100*time.Millisecond, true, "fp-old")

	tr.now = func() time.Time { return base }
	tr.Record("llama2", 50*time.Millisecond, true, "")

	metrics := tr.Metrics()
	if _, ok := metrics["vllm"]; ok {
		t.Error("samples older than the window must not appear in metrics")
	}
	if _, ok := metrics["llama2"]; !ok {
		t.Error("fresh samples must appear in metrics")
	}
}

func TestRecommendedSourceReplaysSuccessfulFingerprint(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)

	tr.Record("llama2", 50*time.Millisecond, true, "fp-1")
	tr.Record("vllm", 20*time.Millisecond, true, "fp-2")

	if got := tr.RecommendedSource(context.Background(), "fp-1"); got != "llama2" {
		t.Errorf("expected replay of llama2, got %s", got)
	}
}

func TestRecommendedSourceSkipsFailedReplay(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)

	tr.Record("llama2", 50*time.Millisecond, false, "fp-1")
	tr.Record("vllm", 20*time.Millisecond, true, "fp-2")

	// fp-1 last failed on llama2, so ranking applies: vllm has the better
	// success rate.
	if got := tr.RecommendedSource(context.Background(), "fp-1"); got != "vllm" {
		t.Errorf("expected ranked pick vllm, got %s", got)
	}
}

func TestRecommendedSourceRanking(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)

	// Equal success rate; gpt-4 has the lower median latency.
	tr.Record("claude-2", 400*time.Millisecond, true, "")
	tr.Record("claude-2", 500*time.Millisecond, true, "")
	tr.Record("gpt-4", 100*time.Millisecond, true, "")
	tr.Record("gpt-4", 120*time.Millisecond, true, "")

	if got := tr.RecommendedSource(context.Background(), ""); got != "gpt-4" {
		t.Errorf("expected gpt-4 on latency tie-break, got %s", got)
	}
}

func TestRecommendedSourceFallbackWithoutHistory(t *testing.T) {
	tr := NewTracker(time.Minute, "local", nil)
	if got := tr.RecommendedSource(context.Background(), "fp-x"); got != "local" {
		t.Errorf("expected configured fallback source, got %s", got)
	}
}

func TestRecordIsSafeUnderConcurrentWriters(t *testing.T) {
	tr := NewTracker(time.Minute, "llm", nil)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				tr.Record("vllm", time.Millisecond, true, "")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if got := tr.Metrics()["vllm"]; got.RequestsPerSecond <= 0 {
		t.Errorf("expected positive throughput, got %v", got.RequestsPerSecond)
	}
}
