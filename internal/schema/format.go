// SPDX-License-Identifier: AGPL-3.0-only
package schema

import (
	"fmt"

	"github.com/jolks/mcp-relay/internal/model"
)

// Format names a provider function-calling wire format.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatOllama    Format = "ollama"
	FormatAzure     Format = "azure"
	FormatAnthropic Format = "anthropic"
)

// JSONSchema renders a descriptor's parameters as a JSON schema object. The
// result always carries type, properties and required, so a tool without
// parameters yields a valid empty-object schema.
func JSONSchema(desc model.ToolDescriptor) map[string]any {
	props := make(map[string]any, len(desc.Parameters))
	required := make([]string, 0, len(desc.Parameters))
	for _, p := range desc.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == model.TypeArray {
			items := p.Items
			if items == "" {
				items = model.TypeString
			}
			prop["items"] = map[string]any{"type": string(items)}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToProviderFormat renders descriptors in a provider's published
// function-calling format.
func ToProviderFormat(descs []model.ToolDescriptor, format Format) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		switch format {
		case FormatOpenAI, FormatOllama, FormatAzure:
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        d.Name,
					"description": d.Description,
					"parameters":  JSONSchema(d),
				},
			})
		case FormatAnthropic:
			out = append(out, map[string]any{
				"name":         d.Name,
				"description":  d.Description,
				"input_schema": JSONSchema(d),
			})
		default:
			return nil, fmt.Errorf("unsupported tool format: %s", format)
		}
	}
	return out, nil
}

// RequiredParams returns the names of a descriptor's required parameters.
func RequiredParams(desc model.ToolDescriptor) []string {
	var names []string
	for _, p := range desc.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Lookup finds a descriptor by its sanitized name, falling back to the
// source name since some models echo the original.
func Lookup(descs []model.ToolDescriptor, name string) (model.ToolDescriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range descs {
		if d.Source == name {
			return d, true
		}
	}
	return model.ToolDescriptor{}, false
}
