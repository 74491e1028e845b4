// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// promptModule is the standard provider-backed module: it frames the query
// with a category-specific instruction, invokes the routed provider, and
// returns the provider's answer.
type promptModule struct {
	name   string
	prefix string
}

// NewPromptModule builds a provider-backed module. The prefix frames the
// prompt; an empty prefix passes the content through untouched.
func NewPromptModule(name, prefix string) Module {
	return &promptModule{name: name, prefix: prefix}
}

func (m *promptModule) Name() string { return m.name }

func (m *promptModule) Process(ctx context.Context, task *Task) (*Response, error) {
	if task.Invoke == nil {
		return nil, fmt.Errorf("module %s requires a provider", m.name)
	}

	prompt := task.Query.Content
	if m.prefix != "" {
		prompt = m.prefix + "\n\n" + prompt
	}
	if task.Context != nil && len(task.Context.Matches) > 0 {
		prompt += "\n\nRelevant context:\n" + strings.Join(task.Context.Matches, "\n")
	}

	params := "{}"
	if task.Query.StrictQuality {
		params = `{"strict_quality":true}`
	}

	result, err := task.Invoke(ctx, prompt, params)
	if err != nil {
		return nil, err
	}
	return &Response{
		RequestID: task.Query.ID,
		Content:   result.Content,
		Source:    task.Provider,
		Tier:      task.Tier,
		Module:    m.name,
	}, nil
}

// degradedModule serves canned degraded answers on the fallback path
// without touching any provider.
type degradedModule struct {
	name   string
	answer string
}

// NewDegradedModule builds a fallback module returning a fixed degraded
// answer.
func NewDegradedModule(name, answer string) Module {
	return &degradedModule{name: name, answer: answer}
}

func (m *degradedModule) Name() string { return m.name }

func (m *degradedModule) Process(_ context.Context, task *Task) (*Response, error) {
	return &Response{
		RequestID: task.Query.ID,
		Content:   m.answer,
		Source:    m.name,
		Tier:      task.Tier,
		Module:    m.name,
		Fallback:  true,
	}, nil
}

// RegisterBuiltinModules installs the default module set: provider-backed
// primaries per category plus the degraded fallback handlers referenced by
// the default fallback table.
func RegisterBuiltinModules(reg *ModuleRegistry) error {
	primaries := []struct {
		name       string
		prefix     string
		categories []string
	}{
		{"code", "You are a careful programmer. Answer with working code.", []string{CategoryPython, CategoryCSharp}},
		{"math", "Solve step by step and state the final answer.", []string{CategoryMath}},
		{"chat", "", []string{CategoryChat}},
	}
	for _, p := range primaries {
		if err := reg.Register(NewPromptModule(p.name, p.prefix), p.categories...); err != nil {
			return err
		}
	}

	fallbacks := []struct {
		name   string
		answer string
	}{
		{"code_generic", "The service is temporarily degraded and cannot generate code right now. Please retry shortly."},
		{"math_basic", "The service is temporarily degraded and cannot solve this right now. Please retry shortly."},
		{"generic", "The service is temporarily degraded. Please retry shortly."},
	}
	for _, f := range fallbacks {
		if err := reg.Register(NewDegradedModule(f.name, f.answer)); err != nil {
			return err
		}
	}
	return nil
}
