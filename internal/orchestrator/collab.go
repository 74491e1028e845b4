// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"

	"github.com/switchboard-ai/switchboard/internal/provider"
)

// ContextBundle is what the context collaborator returns for a query.
type ContextBundle struct {
	Matches []string `json:"matches"`
	Related []string `json:"related"`
}

// ContextProvider supplies situational context and records completed
// interactions. Both sides are optional; a nil ContextProvider disables the
// stage.
type ContextProvider interface {
	// GetContext looks up context for the query text.
	GetContext(ctx context.Context, text string) (*ContextBundle, error)

	// ProcessInteraction records a completed query/response pair. Called
	// off the response path; errors are logged and swallowed.
	ProcessInteraction(ctx context.Context, q *Query, r *Response, metadata map[string]any) error
}

// ReasoningInput is the payload handed to the reasoning collaborator.
type ReasoningInput struct {
	Query      *Query
	Context    *ContextBundle
	Preference string
}

// ReasoningOutput is the reasoning collaborator's verdict. A non-empty
// Source overrides the routed provider.
type ReasoningOutput struct {
	Source string
	Result any
}

// ReasoningEngine optionally augments the query before module dispatch and
// may request a preferred provider.
type ReasoningEngine interface {
	Process(ctx context.Context, in ReasoningInput) (*ReasoningOutput, error)
}

// InvokeFunc runs one prompt against the provider the pipeline selected,
// through batching, circuit breaking and retries.
type InvokeFunc func(ctx context.Context, prompt, params string) (*provider.Result, error)

// Task is one unit of module work: the query plus everything the pipeline
// resolved for it. Invoke is nil on the fallback path, where no provider is
// trusted.
type Task struct {
	Query    *Query
	Provider string
	Tier     string
	Context  *ContextBundle
	Invoke   InvokeFunc
}

// Module processes queries of the categories it is registered for.
type Module interface {
	Name() string
	Process(ctx context.Context, task *Task) (*Response, error)
}
