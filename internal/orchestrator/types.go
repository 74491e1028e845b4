// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator wires routing, batching, validation, resilience and
// telemetry into the per-request pipeline behind Route.
package orchestrator

import (
	"errors"
	"time"
)

// ErrNoFallback is returned when the pipeline failed and no fallback module
// is mapped for the query's content category.
var ErrNoFallback = errors.New("no fallback module for category")

// Query is one inference request entering the pipeline.
type Query struct {
	// ID identifies the request across logs and provenance. Assigned if
	// empty.
	ID string `json:"id"`

	// Content is the user-facing payload to process.
	Content string `json:"content"`

	// Intent is an optional caller-declared intent hint.
	Intent string `json:"intent,omitempty"`

	// Context is an optional situational hint, matched by the urgency rules.
	Context string `json:"context,omitempty"`

	// HighPriority routes the query through the SLA path instead of the
	// load balancer.
	HighPriority bool `json:"high_priority,omitempty"`

	// AllowBatching opts the query into batch coalescing when the selected
	// provider supports it.
	AllowBatching bool `json:"allow_batching,omitempty"`

	// StrictQuality is set internally on the single validation retry.
	StrictQuality bool `json:"-"`

	// Metadata carries caller-supplied and pipeline-attached extras.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// clone returns a shallow copy with its own metadata map. Pipeline
// enrichment works on copies; the caller's query is never written to.
func (q *Query) clone() *Query {
	cp := *q
	if q.Metadata != nil {
		cp.Metadata = make(map[string]any, len(q.Metadata))
		for k, v := range q.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Response is the pipeline's answer to one Query.
type Response struct {
	// RequestID echoes the query ID.
	RequestID string `json:"request_id"`

	// Content is the answer payload.
	Content any `json:"content"`

	// Source is the provider or module that produced the content.
	Source string `json:"source"`

	// Tier is the routing tier label the query resolved to.
	Tier string `json:"tier"`

	// Module is the processing module that handled the query.
	Module string `json:"module"`

	// Fallback marks a degraded response served through the fallback table.
	Fallback bool `json:"fallback,omitempty"`

	// QualityPassed reports the final validation outcome; a false value
	// means the response is served degraded, not withheld.
	QualityPassed bool `json:"quality_passed"`

	// Checks carries the individual quality gate outcomes.
	Checks map[string]bool `json:"checks,omitempty"`

	// Latency is the end-to-end pipeline duration.
	Latency time.Duration `json:"latency_ns"`

	// Provenance carries routing and processing trail metadata.
	Provenance map[string]any `json:"provenance,omitempty"`
}
