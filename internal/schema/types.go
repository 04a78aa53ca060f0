// SPDX-License-Identifier: AGPL-3.0-only
package schema

import (
	"strings"

	"github.com/jolks/mcp-relay/internal/model"
)

// typeTable maps the parameter type names seen in the wild onto the closed
// ParamType set.
var typeTable = map[string]model.ParamType{
	"int":     model.TypeInteger,
	"integer": model.TypeInteger,
	"long":    model.TypeInteger,
	"float":   model.TypeNumber,
	"double":  model.TypeNumber,
	"decimal": model.TypeNumber,
	"number":  model.TypeNumber,
	"list":    model.TypeArray,
	"array":   model.TypeArray,
	"tuple":   model.TypeArray,
	"set":     model.TypeArray,
	"dict":    model.TypeObject,
	"object":  model.TypeObject,
	"map":     model.TypeObject,
	"str":     model.TypeString,
	"string":  model.TypeString,
	"text":    model.TypeString,
	"bool":    model.TypeBoolean,
	"boolean": model.TypeBoolean,
}

// MapType maps a raw type name to a ParamType.
//
// Unknown names map to string: every provider accepts a string argument and
// the tool service can still coerce it, whereas an invalid type would make
// the whole tool definition unusable.
func MapType(raw string) model.ParamType {
	t, _, _ := parseTypeName(raw)
	return t
}

// parseTypeName maps a raw type name, returning the element type for arrays
// and whether the name was marked optional ("Optional[str]", "str | None",
// "str?").
func parseTypeName(raw string) (t, items model.ParamType, optional bool) {
	name := strings.ToLower(strings.TrimSpace(raw))

	if strings.HasPrefix(name, "optional[") && strings.HasSuffix(name, "]") {
		name = strings.TrimSuffix(strings.TrimPrefix(name, "optional["), "]")
		optional = true
	}
	if strings.HasSuffix(name, "?") {
		name = strings.TrimSuffix(name, "?")
		optional = true
	}
	if strings.Contains(name, "|") {
		for _, part := range strings.Split(name, "|") {
			part = strings.TrimSpace(part)
			if part == "none" || part == "null" {
				optional = true
				continue
			}
			name = part
		}
	}
	// Generic forms such as list[int] or dict[str, any].
	inner := ""
	if i := strings.IndexByte(name, '['); i > 0 {
		if j := strings.LastIndexByte(name, ']'); j > i {
			inner = name[i+1 : j]
		}
		name = name[:i]
	}

	t, ok := typeTable[name]
	if !ok {
		t = model.TypeString
	}
	if t == model.TypeArray {
		items = model.TypeString
		if inner != "" {
			items, _, _ = parseTypeName(inner)
		}
	}
	return t, items, optional
}
