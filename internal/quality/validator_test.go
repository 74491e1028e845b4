// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/switchboard-ai/switchboard/internal/config"
)

func TestSafetyDenyList(t *testing.T) {
	v := NewValidator(config.QualityConfig{})

	cases := []struct {
		payload string
		safe    bool
	}{
		{"result = compute(x)", true},
		{"eval(user_input)", false},
		{"system('rm -rf /')", false},
		{"os.popen('ls')", false},
		{"evaluate the expression", true},
	}
	for _, tc := range cases {
		r := v.Validate(tc.payload)
		assert.Equal(t, tc.safe, r.Checks["safety"], "payload: %s", tc.payload)
	}
}

func TestConfiguredDenyPatterns(t *testing.T) {
	v := NewValidator(config.QualityConfig{DenyPatterns: []string{`subprocess\.`}})

	assert.False(t, v.Validate("subprocess.run(['ls'])").Checks["safety"])
	assert.True(t, v.Validate("import json").Checks["safety"])
}

func TestInvalidDenyPatternSkipped(t *testing.T) {
	v := NewValidator(config.QualityConfig{DenyPatterns: []string{`(unclosed`}})

	// Base patterns still apply; the broken one is dropped.
	assert.False(t, v.Validate("eval(x)").Checks["safety"])
	assert.True(t, v.Validate("(unclosed left alone").Checks["safety"])
}

func TestComplexityThreshold(t *testing.T) {
	v := NewValidator(config.QualityConfig{MinComplexity: 0.5})

	assert.False(t, v.Validate("ok").Checks["complexity"])

	code := "def fib(n):\n    if n < 2:\n        return n\n    return fib(n-1) + fib(n-2)"
	assert.True(t, v.Validate(code).Checks["complexity"])
}

func TestComplexityScoreCapsAtOne(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "for i in range(10):\n"
	}
	assert.Equal(t, 1.0, ComplexityScore(long))
}

func TestFormattingCheck(t *testing.T) {
	v := NewValidator(config.QualityConfig{})

	assert.True(t, v.Validate("plain answer").Checks["formatting"])
	assert.False(t, v.Validate("   ").Checks["formatting"])
	assert.True(t, v.Validate(map[string]any{"answer": 42}).Checks["formatting"])
	assert.False(t, v.Validate(map[string]any{"other": 1}).Checks["formatting"])
	assert.False(t, v.Validate(12345).Checks["formatting"])
}

func TestCustomRequiredField(t *testing.T) {
	v := NewValidator(config.QualityConfig{RequiredField: "result"})

	assert.True(t, v.Validate(map[string]any{"result": "x"}).Checks["formatting"])
	assert.False(t, v.Validate(map[string]any{"answer": "x"}).Checks["formatting"])
}

func TestResultRetainsPayloadAndIsDeterministic(t *testing.T) {
	v := NewValidator(config.QualityConfig{MinComplexity: 0.5})

	payload := "eval(x)"
	first := v.Validate(payload)
	assert.False(t, first.Passed)
	assert.Equal(t, payload, first.Response)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, v.Validate(payload))
	}
}
