// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing selects the provider for a query. Elevated traffic goes
// through the SLA router, which matches a service tier and ranks the tier's
// providers on a performance/cost tradeoff; normal traffic goes through the
// weighted load balancer.
package routing

import (
	"time"

	"github.com/switchboard-ai/switchboard/internal/config"
)

// Canonical tier names.
const (
	TierCritical = "critical"
	TierStandard = "standard"
	TierEconomy  = "economy"

	// TierBalanced labels responses served through the load balancer rather
	// than an SLA tier.
	TierBalanced = "balanced"
)

// Tier is one static, config-defined service level.
type Tier struct {
	Name             string
	MinAccuracy      float64
	MaxLatency       time.Duration
	AllowedProviders []string
	CostMultiplier   float64
}

// TierSet holds the configured tiers keyed by name.
type TierSet map[string]Tier

// NewTierSet builds the tier set from configuration.
func NewTierSet(cfgs []config.TierConfig) TierSet {
	set := make(TierSet, len(cfgs))
	for _, tc := range cfgs {
		multiplier := tc.CostMultiplier
		if multiplier <= 0 {
			multiplier = 1.0
		}
		set[tc.Name] = Tier{
			Name:             tc.Name,
			MinAccuracy:      tc.MinAccuracy,
			MaxLatency:       tc.MaxLatency.Std(),
			AllowedProviders: tc.AllowedProviders,
			CostMultiplier:   multiplier,
		}
	}
	return set
}

// Allows reports whether the tier admits the provider.
func (t Tier) Allows(providerName string) bool {
	for _, p := range t.AllowedProviders {
		if p == providerName {
			return true
		}
	}
	return false
}

// Availability reports which providers are currently eligible for routing.
// The self-healing controller implements it; failed providers are excluded.
type Availability interface {
	AvailableTargets() []string
}
