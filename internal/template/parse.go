// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Parse decodes a template body as JSON or YAML (whichever it looks like)
// into a Template. Both encodings are accepted because the reference cloud
// accepts both, and nothing in spec.md requires rejecting either (spec.md
// §6: "JSON (or the repository's canonical equivalent)").
func Parse(body []byte) (*Template, error) {
	raw, err := decodeGeneric(body)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return FromGeneric(raw)
}

func decodeGeneric(body []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{') {
		var raw map[string]any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON template: %w", err)
		}
		return raw, nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML template: %w", err)
	}
	return normalizeYAML(raw).(map[string]any), nil
}

// normalizeYAML recursively rewrites map[interface{}]interface{} nodes (as
// produced by some yaml.v3 decode paths for untyped interface{} targets)
// into map[string]any so the rest of the engine never has to special-case
// YAML-sourced trees.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// FromGeneric shapes an already-decoded generic tree (map[string]any) into
// a typed Template using mapstructure, the same library the teacher pulls
// in (go-viper/mapstructure/v2) to shape decoded config trees into structs
// elsewhere in the pack.
func FromGeneric(raw map[string]any) (*Template, error) {
	var tmpl Template
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringOrSliceHookFunc(),
		WeaklyTypedInput: false,
		Result:           &tmpl,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}

	for logicalID, res := range tmpl.Resources {
		if res == nil {
			continue
		}
		res.LogicalID = logicalID
		res.OriginalProperties = deepCopyMap(res.Properties)
	}
	return &tmpl, nil
}

// stringOrSliceHookFunc lets a DependsOn field be written as either a single
// string or a list of strings in the source template.
func stringOrSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(StringList{}) {
			return data, nil
		}
		switch v := data.(type) {
		case nil:
			return StringList(nil), nil
		case string:
			return StringList{v}, nil
		case []any:
			out := make(StringList, 0, len(v))
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("DependsOn entries must be strings, got %T", e)
				}
				out = append(out, s)
			}
			return out, nil
		case []string:
			return StringList(v), nil
		default:
			return nil, fmt.Errorf("DependsOn must be a string or list of strings, got %T", data)
		}
	}
}
