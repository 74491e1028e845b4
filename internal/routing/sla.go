// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/perf"
)

// ErrNoEligibleProvider indicates no available provider satisfies the
// resolved tier. The orchestrator maps it through the fallback table.
var ErrNoEligibleProvider = errors.New("no eligible provider for tier")

// latencyFloor keeps the latency score bounded for near-instant providers.
const latencyFloor = 100 * time.Millisecond

// costEpsilon stands in for a zero token rate so self-hosted providers rank
// as effectively free instead of dividing by zero.
const costEpsilon = 1e-6

// RouteQuery carries the routing-relevant view of a query.
type RouteQuery struct {
	Content      string
	Intent       string
	Context      string
	HighPriority bool
}

// Decision is the routing outcome for a query.
type Decision struct {
	Provider string
	Tier     string
	Reason   string
}

// SLARouter classifies a request into a service tier and picks the
// best-scoring eligible provider for it.
type SLARouter struct {
	tiers   TierSet
	cost    *perf.CostMonitor
	tracker *perf.Tracker
	avail   Availability
	urgency *UrgencyEvaluator
}

// NewSLARouter creates an SLA router over the given tier set.
func NewSLARouter(tiers TierSet, cost *perf.CostMonitor, tracker *perf.Tracker, avail Availability, urgency *UrgencyEvaluator) *SLARouter {
	if urgency == nil {
		urgency = NewUrgencyEvaluator(nil)
	}
	return &SLARouter{
		tiers:   tiers,
		cost:    cost,
		tracker: tracker,
		avail:   avail,
		urgency: urgency,
	}
}

// SelectProvider resolves the tier for the query and returns the
// best-scoring provider allowed by it.
func (r *SLARouter) SelectProvider(q RouteQuery) (*Decision, error) {
	tier := r.determineTier(q)

	var candidates []string
	for _, name := range r.avail.AvailableTargets() {
		if tier.Allows(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoEligibleProvider, tier.Name)
	}

	// Higher score wins throughout; the score already folds the cost
	// penalty into the denominator.
	best := candidates[0]
	bestScore := r.scoreProvider(best, tier)
	for _, name := range candidates[1:] {
		if score := r.scoreProvider(name, tier); score > bestScore {
			best = name
			bestScore = score
		}
	}

	log.Debugf("SLA routing: tier=%s provider=%s score=%.4f", tier.Name, best, bestScore)
	return &Decision{
		Provider: best,
		Tier:     tier.Name,
		Reason:   fmt.Sprintf("best match for %s SLA", tier.Name),
	}, nil
}

// determineTier applies the tier rules in precedence order: explicit high
// priority, then urgency markers, then the budget override, then standard.
func (r *SLARouter) determineTier(q RouteQuery) Tier {
	if q.HighPriority {
		return r.tier(TierCritical)
	}

	if urgent, rule := r.urgency.Urgent(QueryEnv{Content: q.Content, Intent: q.Intent, Context: q.Context}); urgent {
		log.Debugf("Urgency rule matched: %s", rule)
		return r.tier(TierCritical)
	}

	// An overspent period has negative remaining, which satisfies the
	// comparison for any burn rate. Unbudgeted deployments never downgrade.
	forecast := r.cost.Forecast()
	if forecast.Budget > 0 && forecast.BurnRate > forecast.BudgetRemaining/10 {
		log.Debugf("Budget override: burn rate %.2f against remaining %.2f", forecast.BurnRate, forecast.BudgetRemaining)
		return r.tier(TierEconomy)
	}

	return r.tier(TierStandard)
}

// scoreProvider rates a candidate for a tier: the mean of the accuracy and
// latency fits, divided by the cost penalty. Providers without live metrics
// score neutrally on performance so cost decides.
func (r *SLARouter) scoreProvider(name string, tier Tier) float64 {
	accuracy := tier.MinAccuracy
	latency := tier.MaxLatency
	if m, ok := r.tracker.SourceMetricsFor(name); ok {
		accuracy = m.SuccessRate()
		latency = m.AvgLatency
	}
	if latency < latencyFloor {
		latency = latencyFloor
	}

	accuracyScore := accuracy / tier.MinAccuracy
	latencyScore := float64(tier.MaxLatency) / float64(latency)

	costPenalty := r.cost.InputRate(name, name) * tier.CostMultiplier
	if costPenalty <= 0 {
		costPenalty = costEpsilon
	}

	return (accuracyScore + latencyScore) / 2 / costPenalty
}

func (r *SLARouter) tier(name string) Tier {
	if t, ok := r.tiers[name]; ok {
		return t
	}
	// A misconfigured tier set degrades to an open tier rather than failing
	// the request.
	log.Warnf("Tier %q not configured; using open tier", name)
	return Tier{Name: name, MinAccuracy: 0.5, MaxLatency: 5 * time.Second, CostMultiplier: 1.0, AllowedProviders: r.avail.AvailableTargets()}
}
