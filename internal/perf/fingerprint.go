// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package perf

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint produces a stable hash for a query so repeated queries can
// replay the source that served them before. Content is trimmed and context
// labels are sorted, making the hash insensitive to whitespace and context
// ordering.
func Fingerprint(content, intent string, context []string) string {
	labels := make([]string, len(context))
	copy(labels, context)
	sort.Strings(labels)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(content)))
	h.Write([]byte{0})
	h.Write([]byte(intent))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(labels, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
