// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resilience wraps provider calls in per-provider circuit breakers
// and bounded exponential-backoff retries.
package resilience

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/switchboard-ai/switchboard/internal/config"
)

// ErrCircuitOpen is returned when a provider's breaker short-circuits the
// call without reaching the provider.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerSet holds one circuit breaker per provider, created lazily on
// first use so late-registered providers are covered.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	threshold uint32
	timeout   time.Duration
}

// NewBreakerSet builds a breaker set from configuration. Each breaker trips
// open after the configured number of consecutive failures, short-circuits
// for the recovery timeout, then admits exactly one half-open probe whose
// outcome closes or reopens the circuit.
func NewBreakerSet(cfg config.ResilienceConfig) *BreakerSet {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.RecoveryTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BreakerSet{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

// Execute runs fn through the named provider's breaker. An open circuit
// returns ErrCircuitOpen without invoking fn.
func (s *BreakerSet) Execute(providerName string, fn func() (any, error)) (any, error) {
	result, err := s.breaker(providerName).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State reports the named provider's breaker state.
func (s *BreakerSet) State(providerName string) gobreaker.State {
	return s.breaker(providerName).State()
}

func (s *BreakerSet) breaker(providerName string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[providerName]
	if !ok {
		settings := gobreaker.Settings{
			Name:        providerName,
			MaxRequests: 1,
			Timeout:     s.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("Circuit breaker for %s: %s -> %s", name, from, to)
			},
		}
		cb = gobreaker.NewCircuitBreaker(settings)
		s.breakers[providerName] = cb
	}
	return cb
}
