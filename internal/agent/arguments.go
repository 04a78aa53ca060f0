// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jolks/mcp-relay/internal/model"
)

// ParseArguments decodes a model's raw tool arguments. Input that is not a
// JSON object is given one more chance as "key: value, key: value" text,
// which some local models emit. An error means nothing could be recovered.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch val := v.(type) {
		case nil:
			return map[string]any{}, nil
		case map[string]any:
			return val, nil
		case string:
			// Double-encoded object.
			if inner := strings.TrimSpace(val); strings.HasPrefix(inner, "{") {
				return ParseArguments(inner)
			}
		}
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", raw)
	}

	if args := recoverKeyValues(raw); len(args) > 0 {
		return args, nil
	}
	return nil, fmt.Errorf("malformed arguments: %s", raw)
}

// recoverKeyValues reads "k: v" pairs separated by commas. Values keep their
// text form with surrounding quotes removed.
func recoverKeyValues(raw string) map[string]any {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "{")
	body = strings.TrimSuffix(body, "}")

	out := make(map[string]any)
	for _, part := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.Trim(strings.TrimSpace(k), `'"`)
		if k == "" {
			continue
		}
		out[k] = strings.Trim(strings.TrimSpace(v), `'"`)
	}
	return out
}

// coerceArguments converts string values to the declared scalar type when
// the conversion is lossless. Recovered key/value arguments are all strings.
func coerceArguments(desc model.ToolDescriptor, args map[string]any) {
	for name, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		p, ok := desc.Param(name)
		if !ok {
			continue
		}
		switch p.Type {
		case model.TypeInteger:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				args[name] = n
			}
		case model.TypeNumber:
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				args[name] = f
			}
		case model.TypeBoolean:
			if b, err := strconv.ParseBool(s); err == nil {
				args[name] = b
			}
		case model.TypeArray, model.TypeObject:
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				args[name] = decoded
			}
		}
	}
}

// isDBParam reports whether a parameter carries the database connection.
func isDBParam(name, configured string) bool {
	return name == configured || strings.HasSuffix(name, "connection_name")
}

// injectDBConnection fills the tool's database parameter from the session
// when the model left it out. It returns the parameter name it filled.
func injectDBConnection(desc model.ToolDescriptor, args map[string]any, active, configured string) string {
	if active == "" {
		return ""
	}
	for _, p := range desc.Parameters {
		if !isDBParam(p.Name, configured) {
			continue
		}
		if isMissing(args[p.Name]) {
			args[p.Name] = active
			return p.Name
		}
		return ""
	}
	return ""
}

// missingRequired returns the first required parameter without a value.
func missingRequired(desc model.ToolDescriptor, args map[string]any) string {
	for _, p := range desc.Parameters {
		if p.Required && isMissing(args[p.Name]) {
			return p.Name
		}
	}
	return ""
}

func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

// declaresDBParam reports whether a tool takes a database connection.
func declaresDBParam(desc model.ToolDescriptor, configured string) bool {
	for _, p := range desc.Parameters {
		if isDBParam(p.Name, configured) {
			return true
		}
	}
	return false
}
