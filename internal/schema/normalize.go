// SPDX-License-Identifier: AGPL-3.0-only
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/model"
)

// RawTool is a capability descriptor as reported by the tool-execution
// service. Parameters may be a JSON schema object, a list of
// {name, type, required?} descriptors, or a flat name→type mapping.
type RawTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Normalize converts raw descriptors into ToolDescriptors with unique,
// sanitized names. Tools whose parameter metadata cannot be understood are
// skipped and reported in the returned error list; the rest are still usable.
func Normalize(raw []RawTool) ([]model.ToolDescriptor, []error) {
	out := make([]model.ToolDescriptor, 0, len(raw))
	taken := make(map[string]bool, len(raw))
	var errs []error

	for _, rt := range raw {
		params, err := normalizeParameters(rt.Parameters)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", rt.Name, err))
			continue
		}
		name := uniqueName(SanitizeName(rt.Name), taken)
		taken[name] = true
		out = append(out, model.ToolDescriptor{
			Name:        name,
			Source:      rt.Name,
			Description: rt.Description,
			Parameters:  params,
		})
	}
	return out, errs
}

// normalizeParameters dispatches on the raw parameter shape. Anything that is
// not one of the three accepted shapes is rejected here rather than passed on.
func normalizeParameters(raw any) ([]model.Parameter, error) {
	v, err := toGeneric(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	switch p := v.(type) {
	case nil:
		return []model.Parameter{}, nil
	case []any:
		return fromList(p)
	case map[string]any:
		if isJSONSchema(p) {
			return fromJSONSchema(p)
		}
		return fromFlatMap(p)
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported parameter shape %T", v))
	}
}

// toGeneric round-trips typed values (SDK schema structs, RawMessage) into
// plain maps and slices.
func toGeneric(raw any) (any, error) {
	switch v := raw.(type) {
	case nil, map[string]any, []any:
		return v, nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("parameters are not valid JSON: %w", err)
		}
		return out, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parameters are not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isJSONSchema(m map[string]any) bool {
	if _, ok := m["properties"]; ok {
		return true
	}
	t, ok := m["type"].(string)
	return ok && t == "object"
}

func fromJSONSchema(m map[string]any) ([]model.Parameter, error) {
	props, _ := m["properties"].(map[string]any)
	required := make(map[string]bool)
	if list, ok := m["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]model.Parameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		p := model.Parameter{
			Name:     name,
			Type:     schemaType(prop),
			Required: required[name],
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		if p.Type == model.TypeArray {
			p.Items = model.TypeString
			if items, ok := prop["items"].(map[string]any); ok {
				p.Items = schemaType(items)
			}
		}
		params = append(params, p)
	}
	return params, nil
}

// schemaType resolves a property's type, looking through nullable unions
// ("type": ["string", "null"] and anyOf).
func schemaType(prop map[string]any) model.ParamType {
	if prop == nil {
		return model.TypeString
	}
	switch t := prop["type"].(type) {
	case string:
		return MapType(t)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return MapType(s)
			}
		}
	}
	for _, key := range []string{"anyOf", "oneOf"} {
		if alts, ok := prop[key].([]any); ok {
			for _, alt := range alts {
				am, _ := alt.(map[string]any)
				if s, _ := am["type"].(string); s != "" && s != "null" {
					return schemaType(am)
				}
			}
		}
	}
	return model.TypeString
}

// fromList handles [{name, type, required?, description?}]. A missing
// required flag means required, matching the flat-map shape.
func fromList(list []any) ([]model.Parameter, error) {
	params := make([]model.Parameter, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, apperrors.InvalidInput(fmt.Sprintf("parameter %d is %T, expected an object", i, item))
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("parameter %d has no name", i))
		}
		typeName, _ := m["type"].(string)
		p := newParameter(name, typeName)
		if req, ok := m["required"].(bool); ok {
			p.Required = req
		}
		if desc, ok := m["description"].(string); ok {
			p.Description = desc
		}
		params = append(params, p)
	}
	return params, nil
}

// fromFlatMap handles {name: type}. Values may also be descriptor objects
// without a name, in which case the key supplies it.
func fromFlatMap(m map[string]any) ([]model.Parameter, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]model.Parameter, 0, len(names))
	for _, name := range names {
		switch v := m[name].(type) {
		case string:
			params = append(params, newParameter(name, v))
		case map[string]any:
			entry := make(map[string]any, len(v)+1)
			for k, val := range v {
				entry[k] = val
			}
			entry["name"] = name
			ps, err := fromList([]any{entry})
			if err != nil {
				return nil, err
			}
			params = append(params, ps...)
		default:
			return nil, apperrors.InvalidInput(fmt.Sprintf("parameter %q has unsupported type descriptor %T", name, v))
		}
	}
	return params, nil
}

func newParameter(name, typeName string) model.Parameter {
	t, items, optional := parseTypeName(typeName)
	return model.Parameter{Name: name, Type: t, Items: items, Required: !optional}
}
