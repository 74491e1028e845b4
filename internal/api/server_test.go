// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/batching"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/healing"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/perf"
	"github.com/switchboard-ai/switchboard/internal/provider"
	"github.com/switchboard-ai/switchboard/internal/quality"
	"github.com/switchboard-ai/switchboard/internal/resilience"
	"github.com/switchboard-ai/switchboard/internal/routing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := provider.NewRegistry()
	if err := registry.Register(context.Background(), provider.NewLocal("local", 0), config.ProviderConfig{Name: "local", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	tracker := perf.NewTracker(time.Minute, "llm", nil)
	cost := perf.NewCostMonitor(config.BudgetConfig{MonthlyBudget: 100, WarnFraction: 0.8}, nil)

	healer := healing.NewController(registry, config.HealingConfig{
		Interval:         config.Duration(time.Hour),
		ProbeTimeout:     config.Duration(time.Second),
		FailureThreshold: 3,
	})
	healer.ProbeAll(context.Background())

	balancer := routing.NewLoadBalancer(tracker, healer, 0, 0)
	batcher := batching.NewAdaptiveBatcher(8, 20*time.Millisecond)
	batcher.Start(context.Background())
	t.Cleanup(batcher.Stop)

	modules := orchestrator.NewModuleRegistry()
	if err := orchestrator.RegisterBuiltinModules(modules); err != nil {
		t.Fatal(err)
	}

	defaults := config.DefaultConfig()
	orch := orchestrator.New(orchestrator.Deps{
		Registry:  registry,
		Modules:   modules,
		SLA:       routing.NewSLARouter(routing.NewTierSet(config.DefaultTiers()), cost, tracker, healer, nil),
		Balancer:  balancer,
		Batcher:   batcher,
		Validator: quality.NewValidator(config.QualityConfig{}),
		Breakers:  resilience.NewBreakerSet(defaults.Resilience),
		Retrier:   resilience.NewRetrier(defaults.Resilience),
		Tracker:   tracker,
		Cost:      cost,
		Fallbacks: defaults.Fallbacks,
	})
	return NewServer(orch, healer, cost, balancer)
}

func TestRouteEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := `{"content": "hello from the api"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp orchestrator.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID == "" {
		t.Error("response must carry a request id")
	}
	if resp.Source != "local" {
		t.Errorf("expected local provider, got %s", resp.Source)
	}
	if resp.Fallback {
		t.Error("healthy provider must not produce a fallback response")
	}
}

func TestRouteEndpointRejectsEmptyContent(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Status    string                 `json:"status"`
		Available int                    `json:"available"`
		Targets   []healing.TargetStatus `json:"targets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Status != "ok" || payload.Available != 1 || len(payload.Targets) != 1 {
		t.Errorf("unexpected health payload: %+v", payload)
	}
}

func TestCostsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/costs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		CurrentSpend float64       `json:"current_spend"`
		Forecast     perf.Forecast `json:"forecast"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Forecast.Period == "" {
		t.Error("forecast must carry the current period")
	}
}

func TestBalancerEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/balancer", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}
