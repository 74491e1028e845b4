// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

// QueryEnv is the expression environment urgency rules are evaluated against.
type QueryEnv struct {
	// Content is the query text.
	Content string

	// Intent is the caller-declared intent ("debug", "generate", ...).
	Intent string

	// Context is a flattened view of the query's context labels.
	Context string
}

// defaultUrgencyRules escalate queries that carry error or production
// markers.
var defaultUrgencyRules = []string{
	`Intent contains "error"`,
	`Context contains "production"`,
}

// UrgencyEvaluator decides whether a query should be escalated to the
// critical tier. Rules are expr-lang boolean expressions compiled once at
// construction.
type UrgencyEvaluator struct {
	programs []*vm.Program
	sources  []string
}

// NewUrgencyEvaluator compiles the configured rules, falling back to the
// default error/production rules when none are configured. A rule that fails
// to compile is skipped with an error log.
func NewUrgencyEvaluator(rules []string) *UrgencyEvaluator {
	if len(rules) == 0 {
		rules = defaultUrgencyRules
	}

	e := &UrgencyEvaluator{}
	for _, rule := range rules {
		program, err := expr.Compile(rule, expr.Env(QueryEnv{}), expr.AsBool())
		if err != nil {
			log.Errorf("Skipping invalid urgency rule %q: %v", rule, err)
			continue
		}
		e.programs = append(e.programs, program)
		e.sources = append(e.sources, rule)
	}
	return e
}

// Urgent reports whether any rule matches the query, together with the rule
// that fired.
func (e *UrgencyEvaluator) Urgent(env QueryEnv) (bool, string) {
	for i, program := range e.programs {
		output, err := expr.Run(program, env)
		if err != nil {
			log.Debugf("Urgency rule %q failed: %v", e.sources[i], err)
			continue
		}
		if matched, ok := output.(bool); ok && matched {
			return true, e.sources[i]
		}
	}
	return false, ""
}

// Rules returns the active rule sources, mainly for diagnostics.
func (e *UrgencyEvaluator) Rules() []string {
	return e.sources
}
