// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the Switchboard server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including server binding, provider
// registration, SLA tiers, batching, self-healing, budget, and resilience
// parameters.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to rotating
	// files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// DataDir is the directory where the ledger store keeps its database and
	// sample archives. Defaults to "data" relative to the working directory.
	DataDir string `yaml:"data-dir"`

	// Providers lists the inference backends to register at startup. A
	// provider entry that fails validation is skipped with an error log; it
	// never aborts the whole server.
	Providers []ProviderConfig `yaml:"providers"`

	// Tiers defines the SLA tiers available to the router. When empty, the
	// canonical critical/standard/economy set is installed.
	Tiers []TierConfig `yaml:"tiers"`

	// Routing holds SLA router and load balancer settings.
	Routing RoutingConfig `yaml:"routing"`

	// Batching holds adaptive batcher settings.
	Batching BatchingConfig `yaml:"batching"`

	// Healing holds self-healing controller settings.
	Healing HealingConfig `yaml:"healing"`

	// Budget holds cost monitoring settings.
	Budget BudgetConfig `yaml:"budget"`

	// Tracker holds performance tracker settings.
	Tracker TrackerConfig `yaml:"tracker"`

	// Quality holds response quality gate settings.
	Quality QualityConfig `yaml:"quality"`

	// Resilience holds circuit breaker and retry settings.
	Resilience ResilienceConfig `yaml:"resilience"`

	// Fallbacks maps a query content category to the processing module used
	// when the primary pipeline fails. Categories without an entry fall back
	// to the "generic" module.
	Fallbacks map[string]string `yaml:"fallbacks"`
}

// ProviderConfig describes a single inference backend registration.
type ProviderConfig struct {
	// Name is the unique provider identifier used in tier lists, spend
	// breakdowns and health records.
	Name string `yaml:"name"`

	// Enabled controls whether the provider is registered at startup.
	Enabled bool `yaml:"enabled"`

	// Timeout bounds every outbound call to this provider. A zero value uses
	// the 30s default.
	Timeout Duration `yaml:"timeout"`

	// Params is a raw JSON object merged into every request sent to this
	// provider (temperature, top_p, vendor extensions, ...).
	Params string `yaml:"params"`
}

// TierConfig defines one SLA tier.
type TierConfig struct {
	Name             string   `yaml:"name"`
	MinAccuracy      float64  `yaml:"min-accuracy"`
	MaxLatency       Duration `yaml:"max-latency"`
	AllowedProviders []string `yaml:"allowed-providers"`
	CostMultiplier   float64  `yaml:"cost-multiplier"`
}

// RoutingConfig holds SLA router and load balancer settings.
type RoutingConfig struct {
	// UpdateInterval is the period of the background weight recompute loop.
	UpdateInterval Duration `yaml:"update-interval"`

	// MinSamples is the number of routing decisions required before the next
	// weight recompute takes effect.
	MinSamples int `yaml:"min-samples"`

	// UrgencyRules are expr-lang boolean expressions evaluated against the
	// query; any rule returning true escalates the request to the critical
	// tier. The expression environment exposes Content, Intent and Context.
	UrgencyRules []string `yaml:"urgency-rules"`
}

// BatchingConfig holds adaptive batcher settings.
type BatchingConfig struct {
	// MaxBatchSize is the number of pending queries that triggers an
	// immediate batch release.
	MaxBatchSize int `yaml:"max-batch-size"`

	// MaxWait is the longest a query waits in the pending set before the
	// background flush releases a partial batch.
	MaxWait Duration `yaml:"max-wait"`
}

// HealingConfig holds self-healing controller settings.
type HealingConfig struct {
	// Interval is the time between health probe cycles.
	Interval Duration `yaml:"interval"`

	// ProbeTimeout bounds a single health probe.
	ProbeTimeout Duration `yaml:"probe-timeout"`

	// FailureThreshold is the failure count a target must exceed before a
	// reinitialization attempt is made.
	FailureThreshold int `yaml:"failure-threshold"`
}

// BudgetConfig holds cost monitoring settings.
type BudgetConfig struct {
	// MonthlyBudget is the spend ceiling for one billing period, in USD.
	MonthlyBudget float64 `yaml:"monthly-budget"`

	// WarnFraction is the budget fraction that triggers a budget warning.
	WarnFraction float64 `yaml:"warn-fraction"`

	// Rates maps provider name to model name to USD token rates. Providers
	// absent from the table are priced at zero (self-hosted).
	Rates map[string]map[string]TokenRate `yaml:"rates"`
}

// TokenRate is the USD price per 1K input/output tokens for one model.
type TokenRate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// TrackerConfig holds performance tracker settings.
type TrackerConfig struct {
	// Window is the live metrics window; samples older than this are aged
	// out of rate/latency aggregation but retained for fingerprint replay.
	Window Duration `yaml:"window"`

	// FallbackSource is returned by the source recommendation when no
	// history exists.
	FallbackSource string `yaml:"fallback-source"`

	// RetentionDays bounds how long aged-out samples are kept in the ledger
	// store before being archived.
	RetentionDays int `yaml:"retention-days"`
}

// QualityConfig holds response quality gate settings.
type QualityConfig struct {
	// MinComplexity is the minimum complexity score (0-1) a response must
	// reach to pass the complexity check.
	MinComplexity float64 `yaml:"min-complexity"`

	// DenyPatterns are additional regular expressions matched against code
	// payloads; any match fails the safety check.
	DenyPatterns []string `yaml:"deny-patterns"`

	// RequiredField is the field a structured response object must carry to
	// pass the formatting check.
	RequiredField string `yaml:"required-field"`
}

// ResilienceConfig holds circuit breaker and retry settings.
type ResilienceConfig struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// provider's circuit breaker open.
	FailureThreshold int `yaml:"failure-threshold"`

	// RecoveryTimeout is how long an open breaker short-circuits calls
	// before allowing a half-open probe.
	RecoveryTimeout Duration `yaml:"recovery-timeout"`

	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int `yaml:"max-retries"`

	// BackoffFactor is the base of the exponential backoff delay.
	BackoffFactor Duration `yaml:"backoff-factor"`
}

// DefaultConfig returns a configuration populated with the defaults used when
// no configuration file is present.
func DefaultConfig() *Config {
	cfg := &Config{
		Host:    "127.0.0.1",
		Port:    8317,
		DataDir: "data",
		Routing: RoutingConfig{
			UpdateInterval: Duration(10 * time.Second),
			MinSamples:     20,
		},
		Batching: BatchingConfig{
			MaxBatchSize: 8,
			MaxWait:      Duration(50 * time.Millisecond),
		},
		Healing: HealingConfig{
			Interval:         Duration(60 * time.Second),
			ProbeTimeout:     Duration(10 * time.Second),
			FailureThreshold: 3,
		},
		Budget: BudgetConfig{
			MonthlyBudget: 100.0,
			WarnFraction:  0.8,
		},
		Tracker: TrackerConfig{
			Window:         Duration(60 * time.Second),
			FallbackSource: "llm",
			RetentionDays:  30,
		},
		Quality: QualityConfig{
			MinComplexity: 0.3,
			RequiredField: "answer",
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
			MaxRetries:       3,
			BackoffFactor:    Duration(time.Second),
		},
		Fallbacks: map[string]string{
			"python": "code_generic",
			"csharp": "code_generic",
			"math":   "math_basic",
			"chat":   "generic",
		},
	}
	return cfg
}

// DefaultTiers returns the canonical critical/standard/economy tier set.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Name:             "critical",
			MinAccuracy:      0.95,
			MaxLatency:       Duration(1500 * time.Millisecond),
			AllowedProviders: []string{"gpt-4", "claude-2", "vllm"},
			CostMultiplier:   2.0,
		},
		{
			Name:             "standard",
			MinAccuracy:      0.85,
			MaxLatency:       Duration(3 * time.Second),
			AllowedProviders: []string{"gpt-3.5", "claude-instant", "llama2"},
			CostMultiplier:   1.0,
		},
		{
			Name:             "economy",
			MinAccuracy:      0.70,
			MaxLatency:       Duration(5 * time.Second),
			AllowedProviders: []string{"llama2", "local"},
			CostMultiplier:   1.0,
		},
	}
}

// LoadConfig reads the YAML file at path and merges it over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyFallbacks()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyFallbacks()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	if c.Batching.MaxBatchSize <= 0 {
		c.Batching.MaxBatchSize = 8
	}
	if c.Batching.MaxWait <= 0 {
		c.Batching.MaxWait = Duration(50 * time.Millisecond)
	}
	if c.Budget.WarnFraction <= 0 || c.Budget.WarnFraction > 1 {
		c.Budget.WarnFraction = 0.8
	}
	if c.Tracker.Window <= 0 {
		c.Tracker.Window = Duration(60 * time.Second)
	}
	if c.Tracker.FallbackSource == "" {
		c.Tracker.FallbackSource = "llm"
	}
	if c.Healing.FailureThreshold <= 0 {
		c.Healing.FailureThreshold = 3
	}
	if c.Fallbacks == nil {
		c.Fallbacks = DefaultConfig().Fallbacks
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	seen := make(map[string]bool)
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("config: tier with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.MinAccuracy <= 0 || t.MinAccuracy > 1 {
			return fmt.Errorf("config: tier %q: min-accuracy must be in (0,1]", t.Name)
		}
		if t.MaxLatency <= 0 {
			return fmt.Errorf("config: tier %q: max-latency must be positive", t.Name)
		}
	}
	return nil
}
