// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api is the thin HTTP surface over the pipeline: it issues
// queries, reads healing snapshots and reads cost forecasts. Nothing else
// crosses this boundary.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/healing"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/perf"
	"github.com/switchboard-ai/switchboard/internal/routing"
)

const requestTimeout = 2 * time.Minute

// Server exposes the HTTP endpoints.
type Server struct {
	engine   *gin.Engine
	orch     *orchestrator.Orchestrator
	healer   *healing.Controller
	cost     *perf.CostMonitor
	balancer *routing.LoadBalancer

	http *http.Server
}

// NewServer builds the gin engine and registers the routes.
func NewServer(orch *orchestrator.Orchestrator, healer *healing.Controller, cost *perf.CostMonitor, balancer *routing.LoadBalancer) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		orch:     orch,
		healer:   healer,
		cost:     cost,
		balancer: balancer,
	}

	v1 := engine.Group("/v1")
	v1.POST("/route", s.handleRoute)
	v1.GET("/health", s.handleHealth)
	v1.GET("/costs", s.handleCosts)
	v1.GET("/balancer", s.handleBalancer)
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	log.Infof("HTTP server listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleRoute(c *gin.Context) {
	var q orchestrator.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if q.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	resp, err := s.orch.Route(ctx, &q)
	if err != nil {
		log.Errorf("Request %s failed: %v", q.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "request_id": q.ID})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.healer.Snapshot()
	overall := "ok"
	available := 0
	for _, st := range statuses {
		if st.State != healing.StateFailed {
			available++
		}
	}
	if available == 0 && len(statuses) > 0 {
		overall = "down"
	} else if available < len(statuses) {
		overall = "degraded"
	}

	code := http.StatusOK
	if overall == "down" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    overall,
		"available": available,
		"targets":   statuses,
	})
}

func (s *Server) handleCosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current_spend": s.cost.CurrentSpend(),
		"forecast":      s.cost.Forecast(),
	})
}

func (s *Server) handleBalancer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"weights": s.balancer.Weights(),
		"history": s.balancer.History(),
	})
}
