// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MergeParams overlays the override JSON object on top of the base JSON
// object and returns the merged document. Keys present in override win.
// Invalid or empty inputs degrade gracefully: whichever side is a valid
// object is returned, else "{}".
func MergeParams(base, override string) string {
	if !gjson.Valid(base) || !gjson.Parse(base).IsObject() {
		base = "{}"
	}
	if !gjson.Valid(override) || !gjson.Parse(override).IsObject() {
		return base
	}

	merged := base
	gjson.Parse(override).ForEach(func(key, value gjson.Result) bool {
		var err error
		merged, err = sjson.SetRaw(merged, key.String(), value.Raw)
		if err != nil {
			// Leave the document unchanged for an unusable key.
			return true
		}
		return true
	})
	return merged
}
