// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jolks/mcp-relay/internal/model"
)

const basePrompt = "You are an enterprise assistant with access to external tools. " +
	"When a tool can answer the request, call it instead of answering from your own knowledge. " +
	"Only pass parameters that the tool declares, using the declared names exactly."

const formattingRules = "When responding, give a clear and concise natural language summary of the tool results. " +
	"Format lists as Markdown bullet points (`- item`) and tabular data as Markdown tables (`| Header | ... |`). " +
	"Do not output raw JSON to the user."

// BuildSystemPrompt renders the system message for a database context and
// tool catalog. The output depends only on its inputs, so an unchanged
// context yields an identical prompt.
func BuildSystemPrompt(activeDB string, tools []model.ToolDescriptor, dbParam string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n")

	if activeDB != "" {
		fmt.Fprintf(&b, "\nYou are currently connected to the database named '%s'. "+
			"Use this connection for every database-related request and never ask the user for the database name.\n", activeDB)
	}

	dbTools := databaseTools(tools, dbParam)
	if len(dbTools) > 0 {
		b.WriteString("\nDatabase tools and their exact parameter names (do not use synonyms):\n")
		for _, t := range dbTools {
			fmt.Fprintf(&b, "- `%s`: %s\n", t.Name, describeParams(t))
		}
	}

	b.WriteString("\n")
	b.WriteString(formattingRules)
	return b.String()
}

func databaseTools(tools []model.ToolDescriptor, dbParam string) []model.ToolDescriptor {
	var out []model.ToolDescriptor
	for _, t := range tools {
		if declaresDBParam(t, dbParam) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func describeParams(t model.ToolDescriptor) string {
	if len(t.Parameters) == 0 {
		return "no parameters"
	}
	parts := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		parts = append(parts, fmt.Sprintf("`%s` (%s, %s)", p.Name, p.Type, req))
	}
	return strings.Join(parts, ", ")
}
