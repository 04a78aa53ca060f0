// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jolks/mcp-relay/internal/model"
)

// DefaultResultPreview is the byte limit for a formatted tool result.
const DefaultResultPreview = 4000

// FormatToolResult renders a tool result as compact text for the model.
// Row lists become Markdown tables, scalar lists bullet lists, counts a
// sentence, and anything else indented JSON. The output is cut at limit
// bytes.
func FormatToolResult(res *model.ToolInvocationResult, limit int) string {
	if limit <= 0 {
		limit = DefaultResultPreview
	}
	return truncate(formatResult(res), limit)
}

func formatResult(res *model.ToolInvocationResult) string {
	name := res.ToolName
	if !res.OK {
		return fmt.Sprintf("The `%s` tool failed: %s", name, res.Error)
	}

	switch p := res.Payload.(type) {
	case nil:
		return fmt.Sprintf("The `%s` tool completed without returning data.", name)
	case string:
		return fmt.Sprintf("The `%s` tool returned:\n%s", name, p)
	case []any:
		return formatList(name, p)
	case map[string]any:
		if files, ok := p["files"].([]any); ok {
			return fmt.Sprintf("The `%s` tool returned the following files:\n%s", name, bullets(files))
		}
		if count, ok := p["count"]; ok && len(p) <= 2 {
			return fmt.Sprintf("The `%s` tool returned a count of %v.", name, count)
		}
		if rows, ok := p["result"].([]any); ok {
			return formatList(name, rows)
		}
	}
	return fmt.Sprintf("The `%s` tool returned the following information:\n%s", name, indentJSON(res.Payload))
}

func formatList(name string, items []any) string {
	if len(items) == 0 {
		return fmt.Sprintf("The `%s` tool returned an empty list of results.", name)
	}
	if first, ok := items[0].(map[string]any); ok {
		return fmt.Sprintf("The `%s` tool returned %d rows:\n%s", name, len(items), table(first, items))
	}
	return fmt.Sprintf("The `%s` tool returned %d items:\n%s", name, len(items), bullets(items))
}

// table renders rows as a Markdown table with the first row's keys as
// headers, in sorted order.
func table(first map[string]any, rows []any) string {
	headers := make([]string, 0, len(first))
	for k := range first {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	for _, r := range rows {
		row, _ := r.(map[string]any)
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = cell(row[h])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ReplaceAll(val, "|", `\|`)
	case map[string]any, []any:
		data, _ := json.Marshal(val)
		return strings.ReplaceAll(string(data), "|", `\|`)
	default:
		return fmt.Sprint(val)
	}
}

func bullets(items []any) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + cell(it)
	}
	return strings.Join(lines, "\n")
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// truncate cuts s to at most limit bytes on a rune boundary and notes how
// much was dropped.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... (truncated, %d of %d bytes shown)", cut, len(s))
}
