// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"testing"

	"github.com/jolks/mcp-relay/internal/model"
)

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "", map[string]any{}, false},
		{"null", "null", map[string]any{}, false},
		{"object", `{"city":"NYC"}`, map[string]any{"city": "NYC"}, false},
		{"double encoded", `"{\"city\":\"NYC\"}"`, map[string]any{"city": "NYC"}, false},
		{"key value", `city: New York, state_code: 'NY'`, map[string]any{"city": "New York", "state_code": "NY"}, false},
		{"braced key value", `{city: "Paris"}`, map[string]any{"city": "Paris"}, false},
		{"array", `[1,2]`, nil, true},
		{"garbage", `???`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArguments(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("Expected %s=%v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestCoerceArguments(t *testing.T) {
	desc := model.ToolDescriptor{Parameters: []model.Parameter{
		{Name: "limit", Type: model.TypeInteger},
		{Name: "ratio", Type: model.TypeNumber},
		{Name: "verbose", Type: model.TypeBoolean},
		{Name: "filter", Type: model.TypeObject},
		{Name: "name", Type: model.TypeString},
	}}
	args := map[string]any{"limit": "3", "ratio": "0.5", "verbose": "true", "filter": "{}", "name": "42", "extra": "7"}
	coerceArguments(desc, args)

	if args["limit"] != int64(3) {
		t.Errorf("Expected limit 3, got %#v", args["limit"])
	}
	if args["ratio"] != 0.5 {
		t.Errorf("Expected ratio 0.5, got %#v", args["ratio"])
	}
	if args["verbose"] != true {
		t.Errorf("Expected verbose true, got %#v", args["verbose"])
	}
	if _, ok := args["filter"].(map[string]any); !ok {
		t.Errorf("Expected filter object, got %#v", args["filter"])
	}
	if args["name"] != "42" || args["extra"] != "7" {
		t.Errorf("Expected strings untouched, got %v / %v", args["name"], args["extra"])
	}
}

func TestInjectDBConnection(t *testing.T) {
	desc := sqlTool()

	args := map[string]any{"sql_query": "SELECT 1"}
	if got := injectDBConnection(desc, args, "sqlite_demo", "db_connection_name"); got != "db_connection_name" {
		t.Errorf("Expected injection into db_connection_name, got %q", got)
	}
	if args["db_connection_name"] != "sqlite_demo" {
		t.Errorf("Expected sqlite_demo, got %v", args["db_connection_name"])
	}

	explicit := map[string]any{"db_connection_name": "other"}
	injectDBConnection(desc, explicit, "sqlite_demo", "db_connection_name")
	if explicit["db_connection_name"] != "other" {
		t.Error("Expected an explicit connection to be kept")
	}

	none := map[string]any{}
	if got := injectDBConnection(desc, none, "", "db_connection_name"); got != "" {
		t.Errorf("Expected no injection without an active database, got %q", got)
	}
	if got := injectDBConnection(weatherTool(), map[string]any{}, "sqlite_demo", "db_connection_name"); got != "" {
		t.Errorf("Expected no injection into a tool without a database parameter, got %q", got)
	}
}

func TestMissingRequired(t *testing.T) {
	desc := weatherTool()
	if got := missingRequired(desc, map[string]any{}); got != "city" {
		t.Errorf("Expected city missing, got %q", got)
	}
	if got := missingRequired(desc, map[string]any{"city": "  "}); got != "city" {
		t.Errorf("Expected blank city to count as missing, got %q", got)
	}
	if got := missingRequired(desc, map[string]any{"city": "NYC"}); got != "" {
		t.Errorf("Expected nothing missing, got %q", got)
	}
	if got := missingRequired(sqlTool(), map[string]any{"db_connection_name": "x", "sql_query": "q", "limit": 0}); got != "" {
		t.Errorf("Expected zero values to count as present, got %q", got)
	}
}
