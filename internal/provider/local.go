// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Local is a self-hosted stand-in backend: it answers deterministically
// without network access. Real backends implement the same contract and
// register identically; Local keeps a deployment functional while they are
// being wired.
type Local struct {
	name  string
	delay time.Duration
}

// NewLocal builds a local backend with an optional simulated latency.
func NewLocal(name string, delay time.Duration) *Local {
	return &Local{name: name, delay: delay}
}

func (l *Local) Name() string { return l.name }

func (l *Local) Initialize(context.Context) error { return nil }

func (l *Local) Execute(ctx context.Context, req *Request) (*Result, error) {
	if l.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.delay):
		}
	}
	return &Result{
		Content:      l.answer(req.Prompt),
		Confidence:   0.5,
		InputTokens:  len(strings.Fields(req.Prompt)),
		OutputTokens: 32,
		Model:        l.name,
	}, nil
}

// ExecuteBatch makes Local batching-capable.
func (l *Local) ExecuteBatch(ctx context.Context, prompts []string, _ string) ([]*Result, error) {
	out := make([]*Result, len(prompts))
	for i, p := range prompts {
		r, err := l.Execute(ctx, &Request{Prompt: p})
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (l *Local) HealthCheck(context.Context) (*HealthReport, error) {
	return &HealthReport{Ready: true}, nil
}

func (l *Local) answer(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) > 120 {
		prompt = prompt[:120] + "..."
	}
	return fmt.Sprintf("[%s] processed: %s", l.name, prompt)
}
