// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package perf

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/store"
)

// Forecast is the budget outlook for the current billing period.
type Forecast struct {
	// Period is the billing period ("2026-08").
	Period string `json:"period"`

	// CurrentSpend is the cumulative spend so far this period.
	CurrentSpend float64 `json:"current_spend"`

	// ProjectedSpend extrapolates the daily average to the full period.
	ProjectedSpend float64 `json:"projected_spend"`

	// Budget is the configured monthly ceiling; zero means unbudgeted.
	Budget float64 `json:"budget"`

	// BudgetRemaining is the monthly budget minus current spend. Negative
	// once the period is overspent.
	BudgetRemaining float64 `json:"budget_remaining"`

	// BurnRate is the daily average spend.
	BurnRate float64 `json:"burn_rate"`

	// Warning indicates the warn fraction of the budget has been crossed.
	Warning bool `json:"warning"`
}

// CostMonitor is the per-billing-period spend ledger. Spend within a period
// only grows; a calendar-month change rolls the ledger over to a fresh
// period while prior periods stay in the store.
type CostMonitor struct {
	mu           sync.Mutex
	budget       float64
	warnFraction float64
	rates        map[string]map[string]config.TokenRate
	ledger       *store.Store
	current      store.PeriodRecord
	warned       bool
	now          func() time.Time
}

// NewCostMonitor creates a cost monitor, restoring the current period from
// the ledger store when one is present.
func NewCostMonitor(cfg config.BudgetConfig, ledger *store.Store) *CostMonitor {
	c := &CostMonitor{
		budget:       cfg.MonthlyBudget,
		warnFraction: cfg.WarnFraction,
		rates:        cfg.Rates,
		ledger:       ledger,
		now:          time.Now,
	}
	if c.warnFraction <= 0 || c.warnFraction > 1 {
		c.warnFraction = 0.8
	}

	period := c.now().Format("2006-01")
	c.current = store.PeriodRecord{Period: period, Breakdown: make(map[string]float64)}
	if ledger != nil {
		if rec, err := ledger.LoadPeriod(context.Background(), period); err != nil {
			log.Warnf("Failed to restore billing period %s: %v", period, err)
		} else if rec != nil {
			c.current = *rec
			if c.current.Breakdown == nil {
				c.current.Breakdown = make(map[string]float64)
			}
			c.warned = c.budget > 0 && c.current.TotalSpend > c.budget*c.warnFraction
		}
	}
	return c
}

// RecordCall prices one provider call and appends it to the current period.
// It returns the computed cost in USD. Unpriced providers cost zero
// (self-hosted). Crossing the warn fraction of the monthly budget logs a
// budget warning once per period; it never blocks the call.
func (c *CostMonitor) RecordCall(ctx context.Context, providerName, model string, inputTokens, outputTokens int) float64 {
	rate := c.rate(providerName, model)
	cost := (float64(inputTokens)*rate.Input + float64(outputTokens)*rate.Output) / 1000

	c.mu.Lock()
	c.rolloverLocked()
	c.current.TotalSpend += cost
	c.current.Breakdown[providerName] += cost
	snapshot := c.current
	crossed := false
	if c.budget > 0 && !c.warned && c.current.TotalSpend > c.budget*c.warnFraction {
		c.warned = true
		crossed = true
	}
	c.mu.Unlock()

	if crossed {
		log.Warnf("Approaching budget limit: %.2f/%.2f for period %s", snapshot.TotalSpend, c.budget, snapshot.Period)
	}

	if c.ledger != nil {
		persisted := snapshot
		persisted.Breakdown = make(map[string]float64, len(snapshot.Breakdown))
		for k, v := range snapshot.Breakdown {
			persisted.Breakdown[k] = v
		}
		if err := c.ledger.UpsertPeriod(ctx, &persisted); err != nil {
			log.Warnf("Failed to persist spend ledger: %v", err)
		}
	}
	return cost
}

// Forecast extrapolates the current daily average to the full period.
func (c *CostMonitor) Forecast() Forecast {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	now := c.now()
	daysElapsed := now.Day()
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	dailyAvg := c.current.TotalSpend / float64(daysElapsed)

	return Forecast{
		Period:          c.current.Period,
		CurrentSpend:    c.current.TotalSpend,
		ProjectedSpend:  dailyAvg * float64(daysInMonth),
		Budget:          c.budget,
		BudgetRemaining: c.budget - c.current.TotalSpend,
		BurnRate:        dailyAvg,
		Warning:         c.warned,
	}
}

// CurrentSpend returns the cumulative spend of the current period.
func (c *CostMonitor) CurrentSpend() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.current.TotalSpend
}

// InputRate returns the per-1K-token input rate for a provider/model pair.
// The SLA router uses it as the cost penalty of a candidate.
func (c *CostMonitor) InputRate(providerName, model string) float64 {
	return c.rate(providerName, model).Input
}

// rolloverLocked starts a fresh period when the calendar month changed.
// The finished period was persisted on its last write and stays in the store.
func (c *CostMonitor) rolloverLocked() {
	period := c.now().Format("2006-01")
	if period == c.current.Period {
		return
	}
	log.Infof("Billing period rollover: %s -> %s (closing spend %.2f)", c.current.Period, period, c.current.TotalSpend)
	c.current = store.PeriodRecord{Period: period, Breakdown: make(map[string]float64)}
	c.warned = false
}

func (c *CostMonitor) rate(providerName, model string) config.TokenRate {
	providerRates, ok := c.rates[providerName]
	if !ok {
		return config.TokenRate{}
	}
	if rate, ok := providerRates[model]; ok {
		return rate
	}
	return providerRates["default"]
}
