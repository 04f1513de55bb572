package mcpconfig

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tailscale/hujson"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

// Format is a configuration serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the preferred decoder from the file extension. Unknown
// extensions prefer JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mcpServers"],
  "properties": {
    "mcpServers": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/server"}
    },
    "remoteConfigs": {
      "type": "array",
      "items": {"$ref": "#/definitions/remote"}
    }
  },
  "definitions": {
    "stringMap": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "server": {
      "type": "object",
      "properties": {
        "command": {"type": "string", "minLength": 1},
        "args": {"type": "array", "items": {"type": "string"}},
        "env": {"$ref": "#/definitions/stringMap"},
        "url": {"type": "string", "minLength": 1},
        "type": {"enum": ["stdio", "http", "sse", "streamable-http", "streamableHttp"]},
        "headers": {"$ref": "#/definitions/stringMap"},
        "disabled": {"type": "boolean"},
        "timeout": {"type": ["string", "number"]},
        "config": {
          "type": "object",
          "properties": {
            "instruction": {"type": "string"},
            "toolBlacklist": {"type": "array", "items": {"type": "string"}},
            "omitToolDescription": {"type": "boolean"}
          }
        }
      },
      "oneOf": [
        {"required": ["command"], "not": {"required": ["url"]}},
        {"required": ["url"], "not": {"required": ["command"]}}
      ]
    },
    "remote": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "headers": {"$ref": "#/definitions/stringMap"},
        "mergeStrategy": {"enum": ["local-priority", "remote-priority", "merge-deep"]}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
})

// parseDocument decodes, validates and types a configuration document. The
// preferred format is tried first and the other one is the fallback.
func parseDocument(data []byte, preferred Format, origin string) (*document, error) {
	generic, err := decodeGeneric(data, preferred)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConfigParse, err, "parse %s", origin)
	}
	if err := checkShape(generic, origin); err != nil {
		return nil, err
	}
	if err := validateSchema(generic, origin); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConfigParse, err, "re-encode %s", origin)
	}
	var doc document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, mcperr.Wrap(mcperr.KindConfigSchema, err, "decode %s", origin)
	}
	return &doc, nil
}

func decodeGeneric(data []byte, preferred Format) (any, error) {
	order := []Format{FormatJSON, FormatYAML}
	if preferred == FormatYAML {
		order = []Format{FormatYAML, FormatJSON}
	}
	var errs []string
	for _, f := range order {
		v, err := decodeAs(data, f)
		if err == nil {
			return v, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", f, err))
	}
	return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
}

func decodeAs(data []byte, f Format) (any, error) {
	switch f {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return normalizeYAML(v), nil
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(std, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// normalizeYAML converts map[any]any nodes, which yaml.v3 produces for
// non-string keys, into map[string]any so the tree can be JSON-encoded.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

func checkShape(v any, origin string) error {
	top, ok := v.(map[string]any)
	if !ok {
		return mcperr.New(mcperr.KindConfigSchema, "%s: top level must be an object", origin)
	}
	raw, present := top["mcpServers"]
	if !present {
		return mcperr.New(mcperr.KindConfigSchema, "%s: missing mcpServers", origin)
	}
	servers, ok := raw.(map[string]any)
	if !ok {
		return mcperr.New(mcperr.KindConfigSchema, "%s: mcpServers must be an object", origin)
	}
	for _, entry := range servers {
		server, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		stringifyScalars(server, "env")
		stringifyScalars(server, "headers")
	}
	return nil
}

// stringifyScalars lets YAML authors write `PORT: 8080` in env maps.
func stringifyScalars(server map[string]any, key string) {
	m, ok := server[key].(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		switch v.(type) {
		case string, nil, map[string]any, []any:
		default:
			m[k] = fmt.Sprint(v)
		}
	}
}

func validateSchema(v any, origin string) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("mcpconfig: compile schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return mcperr.Wrap(mcperr.KindConfigSchema, err, "validate %s", origin)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	sort.Strings(problems)
	return mcperr.New(mcperr.KindConfigSchema, "%s: %s", origin, strings.Join(problems, "; "))
}
