// Package specload reads workflow specs and run variables from files.
package specload

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Format names a spec encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// LoadFile reads a spec file. The format follows the extension: .yaml and
// .yml are YAML, .json is JSON.
func LoadFile(path string) (*schema.Spec, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "read spec file: %s", err.Error()).WithCause(err)
	}
	return LoadBytes(data, format)
}

// LoadBytes decodes a spec. YAML is converted to JSON first so both formats
// share the JSON field names and the pattern {type, config} decoding.
func LoadBytes(data []byte, format Format) (*schema.Spec, error) {
	raw := data
	switch format {
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "parse YAML: %s", err.Error()).WithCause(err)
		}
		if doc == nil {
			return nil, schema.NewError(schema.ErrCodeConfiguration, "spec is empty")
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "convert YAML: %s", err.Error()).WithCause(err)
		}
		raw = converted
	case FormatJSON:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unsupported format %q, use \"yaml\" or \"json\"", format)
	}

	var spec schema.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		var se *schema.Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "decode spec: %s", err.Error()).WithCause(err)
	}
	return &spec, nil
}

// DetectFormat returns the spec format for path's extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeConfiguration, "unsupported spec file extension %q", filepath.Ext(path))
	}
}

// ParseVars turns k=v pairs into run variables. Values that parse as YAML
// scalars, lists or maps keep that type ("3" is a number, "[a, b]" a list);
// anything else is a string.
func ParseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "invalid variable %q, want key=value", p)
		}
		vars[k] = parseValue(v)
	}
	return vars, nil
}

func parseValue(v string) any {
	if v == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil || strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{") || v == "true" || v == "false" {
		var out any
		if err := yaml.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return v
}
