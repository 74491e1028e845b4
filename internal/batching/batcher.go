// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package batching groups compatible requests so providers that accept
// multiple prompts per call are driven at batch granularity. Callers add
// items and suspend; a full batch releases immediately, everything else
// releases on the flush ticker or when a waiter's context expires.
package batching

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxBatchSize = 8
	defaultMaxWait      = 50 * time.Millisecond
)

// Pending is one queued item. Payload is opaque to the batcher; priority
// orders release, arrival breaks ties.
type Pending struct {
	Payload  any
	Priority int

	arrival uint64
	release chan []*Pending
}

// AdaptiveBatcher collects items into priority-ordered batches. A batch
// never exceeds the configured maximum size, and queued items are always
// released eventually: by reaching full size, by the background flush
// ticker, or by a waiter's context expiring.
type AdaptiveBatcher struct {
	maxSize int
	maxWait time.Duration

	mu      sync.Mutex
	pending []*Pending
	seq     uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdaptiveBatcher builds a batcher releasing at most maxSize items per
// batch, with a background flush every maxWait. Non-positive arguments fall
// back to the defaults.
func NewAdaptiveBatcher(maxSize int, maxWait time.Duration) *AdaptiveBatcher {
	if maxSize <= 0 {
		maxSize = defaultMaxBatchSize
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &AdaptiveBatcher{maxSize: maxSize, maxWait: maxWait}
}

// Add queues payload and suspends until the batch containing it releases.
// Every member of a released batch receives the same slice, ordered highest
// priority first with arrival order breaking ties; the caller holding the
// first slot is expected to execute the batch on behalf of the rest. When
// ctx expires before a natural release, whatever is pending is flushed so
// no item is ever stranded.
func (b *AdaptiveBatcher) Add(ctx context.Context, payload any, priority int) ([]*Pending, error) {
	item := &Pending{
		Payload:  payload,
		Priority: priority,
		release:  make(chan []*Pending, 1),
	}

	b.mu.Lock()
	item.arrival = b.seq
	b.seq++
	b.pending = append(b.pending, item)
	var full []*Pending
	if len(b.pending) >= b.maxSize {
		full = b.takeLocked(b.maxSize)
	}
	b.mu.Unlock()

	if full != nil {
		b.deliver(full)
	}

	select {
	case batch := <-item.release:
		return batch, nil
	case <-ctx.Done():
		// The deadline releases the pending set rather than dropping the
		// item. After Flush the item is guaranteed to have been delivered,
		// either here or by a concurrent release.
		b.Flush()
		return <-item.release, nil
	}
}

// Flush drains everything currently pending, releasing batches of at most
// the configured size, possibly a final one of size one.
func (b *AdaptiveBatcher) Flush() {
	for {
		b.mu.Lock()
		n := len(b.pending)
		if n > b.maxSize {
			n = b.maxSize
		}
		batch := b.takeLocked(n)
		b.mu.Unlock()
		if batch == nil {
			return
		}
		b.deliver(batch)
	}
}

// PendingCount reports how many items are queued but not yet released.
func (b *AdaptiveBatcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start launches the background flush loop.
func (b *AdaptiveBatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.maxWait)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				b.Flush()
				return
			case <-ticker.C:
				b.Flush()
			}
		}
	}()
	log.Debugf("Adaptive batcher started: max_size=%d max_wait=%s", b.maxSize, b.maxWait)
}

// Stop terminates the flush loop, releasing anything still queued.
func (b *AdaptiveBatcher) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

// takeLocked removes the n highest-priority pending items and returns them
// ordered for release. Callers hold b.mu.
func (b *AdaptiveBatcher) takeLocked(n int) []*Pending {
	if n <= 0 || len(b.pending) == 0 {
		return nil
	}
	sort.SliceStable(b.pending, func(i, j int) bool {
		if b.pending[i].Priority != b.pending[j].Priority {
			return b.pending[i].Priority > b.pending[j].Priority
		}
		return b.pending[i].arrival < b.pending[j].arrival
	})
	if n > len(b.pending) {
		n = len(b.pending)
	}
	batch := b.pending[:n:n]
	b.pending = append([]*Pending(nil), b.pending[n:]...)
	return batch
}

func (b *AdaptiveBatcher) deliver(batch []*Pending) {
	for _, item := range batch {
		item.release <- batch
	}
}
