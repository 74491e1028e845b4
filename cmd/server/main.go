// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main starts the switchboard server: it loads configuration,
// registers the configured backends, wires the routing/batching/healing
// pipeline and serves the HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/api"
	"github.com/switchboard-ai/switchboard/internal/batching"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/healing"
	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/perf"
	"github.com/switchboard-ai/switchboard/internal/provider"
	"github.com/switchboard-ai/switchboard/internal/quality"
	"github.com/switchboard-ai/switchboard/internal/resilience"
	"github.com/switchboard-ai/switchboard/internal/routing"
	"github.com/switchboard-ai/switchboard/internal/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("switchboard %s (%s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.DataDir); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

func run(cfg *config.Config) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer ledger.Close()

	registry := provider.NewRegistry()
	registerProviders(rootCtx, registry, cfg)
	if len(registry.Names()) == 0 {
		return errors.New("no provider registered successfully")
	}

	tracker := perf.NewTracker(cfg.Tracker.Window.Std(), cfg.Tracker.FallbackSource, ledger)
	cost := perf.NewCostMonitor(cfg.Budget, ledger)

	healer := healing.NewController(registry, cfg.Healing)
	healer.OnEvent(func(ev healing.Event) {
		log.Infof("Target %s: %s -> %s (%s)", ev.Target, ev.From, ev.To, ev.Detail)
	})
	if err := healer.Start(rootCtx); err != nil {
		return err
	}
	defer healer.Stop()

	urgency := routing.NewUrgencyEvaluator(cfg.Routing.UrgencyRules)
	sla := routing.NewSLARouter(routing.NewTierSet(cfg.Tiers), cost, tracker, healer, urgency)

	balancer := routing.NewLoadBalancer(tracker, healer, cfg.Routing.UpdateInterval.Std(), cfg.Routing.MinSamples)
	balancer.Start(rootCtx)
	defer balancer.Stop()

	batcher := batching.NewAdaptiveBatcher(cfg.Batching.MaxBatchSize, cfg.Batching.MaxWait.Std())
	batcher.Start(rootCtx)
	defer batcher.Stop()

	modules := orchestrator.NewModuleRegistry()
	if err := orchestrator.RegisterBuiltinModules(modules); err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Registry:  registry,
		Modules:   modules,
		SLA:       sla,
		Balancer:  balancer,
		Batcher:   batcher,
		Validator: quality.NewValidator(cfg.Quality),
		Breakers:  resilience.NewBreakerSet(cfg.Resilience),
		Retrier:   resilience.NewRetrier(cfg.Resilience),
		Tracker:   tracker,
		Cost:      cost,
		Fallbacks: cfg.Fallbacks,
	})

	go archiveLoop(rootCtx, ledger, cfg.Tracker.RetentionDays)

	server := api.NewServer(orch, healer, cost, balancer)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-rootCtx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Forced shutdown: %v", err)
		}
		return nil
	}
}

// registerProviders registers every enabled backend. A failed registration
// is fatal to that provider only.
func registerProviders(ctx context.Context, registry *provider.Registry, cfg *config.Config) {
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			log.Debugf("Provider %s disabled, skipping", pc.Name)
			continue
		}
		impl := provider.NewLocal(pc.Name, 0)
		if err := registry.Register(ctx, impl, pc); err != nil {
			log.Errorf("Provider %s not registered: %v", pc.Name, err)
		}
	}
}

// archiveLoop periodically moves aged-out samples from the ledger into
// compressed archives. Errors are logged and swallowed so one bad cycle
// cannot kill the loop.
func archiveLoop(ctx context.Context, ledger *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			if n, err := ledger.ArchiveSamples(ctx, cutoff); err != nil {
				log.Warnf("Sample archive failed: %v", err)
			} else if n > 0 {
				log.Infof("Archived %d samples older than %s", n, cutoff.Format("2006-01-02"))
			}
		}
	}
}
