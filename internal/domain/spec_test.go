package domain

import (
	"strings"
	"testing"
)

const manifestYAML = `
prefab_id: weather-api
version: 1.0.0
name: Weather API
functions:
  - name: get_current_weather
    parameters:
      - name: city
        type: string
        required: true
    secrets:
      - name: API_KEY
        required: true
    returns:
      - name: report
        type: OutputFile
`

const manifestJSON = `{
  "prefab_id": "weather-api",
  "version": "1.0.0",
  "functions": [
    {
      "name": "get_current_weather",
      "parameters": [{"name": "city", "type": "string", "required": true}]
    }
  ]
}`

func TestParseManifest_YAML(t *testing.T) {
	spec, err := ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatalf("ParseManifest() err=%v", err)
	}
	if spec.PrefabID != "weather-api" || spec.Version != "1.0.0" {
		t.Fatalf("spec identity=%s@%s, want weather-api@1.0.0", spec.PrefabID, spec.Version)
	}
	fn, ok := spec.Function("get_current_weather")
	if !ok {
		t.Fatalf("function not found")
	}
	if len(fn.Secrets) != 1 || fn.Secrets[0].Name != "API_KEY" {
		t.Fatalf("secrets=%v, want [API_KEY]", fn.Secrets)
	}
	if len(fn.Returns) != 1 || !fn.Returns[0].IsOutputFile() {
		t.Fatalf("returns=%v, want one OutputFile", fn.Returns)
	}
}

func TestParseManifest_JSON(t *testing.T) {
	spec, err := ParseManifest([]byte(manifestJSON))
	if err != nil {
		t.Fatalf("ParseManifest() err=%v", err)
	}
	if _, ok := spec.Function("get_current_weather"); !ok {
		t.Fatalf("function not found")
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSub string
	}{
		{
			name:    "missing prefab id",
			input:   "version: 1.0.0\nfunctions:\n  - name: f",
			wantSub: "prefab_id",
		},
		{
			name:    "no functions",
			input:   "prefab_id: x\nversion: 1.0.0",
			wantSub: "functions",
		},
		{
			name: "duplicate function",
			input: `prefab_id: x
version: 1.0.0
functions:
  - name: f
  - name: f
`,
			wantSub: "unique",
		},
		{
			name: "bad parameter type",
			input: `prefab_id: x
version: 1.0.0
functions:
  - name: f
    parameters:
      - name: p
        type: OutputFile
`,
			wantSub: "unsupported type",
		},
		{
			name: "bad return type",
			input: `prefab_id: x
version: 1.0.0
functions:
  - name: f
    returns:
      - name: r
        type: InputFile
`,
			wantSub: "unsupported type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.input))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("err=%q, want substring %q", err.Error(), tt.wantSub)
			}
		})
	}
}
