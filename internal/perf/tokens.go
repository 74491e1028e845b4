// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package perf

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// EstimateTokens counts the tokens of text with the cl100k encoding. It is
// used for cost accounting when a backend does not report usage. When the
// tokenizer is unavailable it falls back to a chars/4 approximation.
func EstimateTokens(text string) int {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr == nil {
		if count, err := codec.Count(text); err == nil {
			return count
		}
	}
	return (len(text) + 3) / 4
}
