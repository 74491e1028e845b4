// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resilience

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/provider"
)

// Retrier reruns failed calls with exponential backoff. Only transient
// provider failures are retried; everything else surfaces immediately.
type Retrier struct {
	maxRetries int
	backoff    time.Duration
}

// NewRetrier builds a retrier from configuration.
func NewRetrier(cfg config.ResilienceConfig) *Retrier {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.BackoffFactor.Std()
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Retrier{maxRetries: maxRetries, backoff: backoff}
}

// Do invokes fn up to maxRetries+1 times, sleeping backoff×2^attempt
// between attempts. Non-retryable errors and an expired context end the
// loop immediately; after exhaustion the last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; ; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if attempt >= r.maxRetries || !Retryable(last) {
			return last
		}

		delay := r.backoff * (1 << attempt)
		log.Debugf("Retrying after %s (attempt %d/%d): %v", delay, attempt+1, r.maxRetries, last)
		select {
		case <-ctx.Done():
			return last
		case <-time.After(delay):
		}
	}
}

// Retryable reports whether err is a transient failure worth retrying:
// provider call errors (timeouts included) and bare deadline expiry. Open
// circuits are not retried; the breaker owns that schedule.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
