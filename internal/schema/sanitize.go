// SPDX-License-Identifier: AGPL-3.0-only
package schema

import (
	"strconv"
	"strings"
)

// MaxNameLength is the longest function name every supported provider accepts.
const MaxNameLength = 64

// SanitizeName converts a raw tool name into a provider-safe function name
// matching ^[a-z_][a-z0-9_]{0,63}$.
func SanitizeName(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "tool"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name
}

// uniqueName returns name, or name with a numeric suffix if it is already
// taken. The result never exceeds MaxNameLength.
func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := name
		if len(base)+len(suffix) > MaxNameLength {
			base = base[:MaxNameLength-len(suffix)]
		}
		if candidate := base + suffix; !taken[candidate] {
			return candidate
		}
	}
}
