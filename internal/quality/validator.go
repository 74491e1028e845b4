// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package quality gates responses before they leave the pipeline. Checks
// are independent and deterministic; a failing gate marks the result but
// never discards the payload.
package quality

import (
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/config"
)

// basePatterns always apply to code payloads, regardless of configuration.
var basePatterns = []string{
	`eval\(`,
	`system\(`,
	`os\.popen`,
}

var complexityKeywords = []string{"for", "while", "def", "class", "func", "if"}

const defaultRequiredField = "answer"

// Result reports the outcome of one validation pass. Response carries the
// original payload untouched.
type Result struct {
	Passed   bool            `json:"passed"`
	Checks   map[string]bool `json:"checks"`
	Response any             `json:"response"`
}

// Validator applies the configured quality gates.
type Validator struct {
	deny          []*regexp.Regexp
	minComplexity float64
	requiredField string
}

// NewValidator compiles the deny-list and captures thresholds. Invalid
// configured patterns are skipped with a log entry rather than failing
// construction.
func NewValidator(cfg config.QualityConfig) *Validator {
	patterns := append(append([]string{}, basePatterns...), cfg.DenyPatterns...)
	deny := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Errorf("Skipping invalid deny pattern %q: %v", p, err)
			continue
		}
		deny = append(deny, re)
	}

	required := cfg.RequiredField
	if required == "" {
		required = defaultRequiredField
	}
	return &Validator{
		deny:          deny,
		minComplexity: cfg.MinComplexity,
		requiredField: required,
	}
}

// Validate runs every gate over the payload and ANDs the outcomes. The same
// payload always yields the same result.
func (v *Validator) Validate(payload any) Result {
	checks := map[string]bool{
		"safety":     v.checkSafety(payload),
		"complexity": v.checkComplexity(payload),
		"formatting": v.checkFormatting(payload),
	}
	passed := true
	for _, ok := range checks {
		passed = passed && ok
	}
	return Result{Passed: passed, Checks: checks, Response: payload}
}

// checkSafety scans string payloads against the deny-list. Non-string
// payloads carry no code and pass.
func (v *Validator) checkSafety(payload any) bool {
	s, ok := payload.(string)
	if !ok {
		return true
	}
	for _, re := range v.deny {
		if re.MatchString(s) {
			return false
		}
	}
	return true
}

// checkComplexity scores string payloads by line count and control-flow
// keyword density, capped at 1.0, and compares against the configured
// minimum. Non-string payloads pass.
func (v *Validator) checkComplexity(payload any) bool {
	if v.minComplexity <= 0 {
		return true
	}
	s, ok := payload.(string)
	if !ok {
		return true
	}
	return ComplexityScore(s) >= v.minComplexity
}

// checkFormatting accepts plain string payloads and structured objects
// carrying the required field. Everything else fails.
func (v *Validator) checkFormatting(payload any) bool {
	switch p := payload.(type) {
	case string:
		return strings.TrimSpace(p) != ""
	case map[string]any:
		_, ok := p[v.requiredField]
		return ok
	default:
		return false
	}
}

// ComplexityScore is the heuristic shared with validation: 0.1 per line
// plus 0.3 per control-flow keyword occurrence, capped at 1.0.
func ComplexityScore(s string) float64 {
	lines := strings.Count(strings.TrimSpace(s), "\n") + 1
	score := float64(lines) * 0.1
	lower := strings.ToLower(s)
	for _, kw := range complexityKeywords {
		score += float64(strings.Count(lower, kw)) * 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
