// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/stackforge/deployengine/internal/providers"
)

// cty is used narrowly, at this single scalar-coercion boundary, to convert
// a resolved property value (always one of string/float64/bool/nil coming
// out of internal/lang) into the Go type a backing API parameter actually
// needs. The rest of the engine works directly on the plain `any` value
// tree; reaching for cty.Value throughout would mean threading type
// information the template format itself doesn't carry.

// ToString coerces the selected value to a string.
func ToString() providers.TypeCoercion {
	return func(v any) (any, error) {
		return coerceVia(v, cty.String, func(val cty.Value) (any, error) {
			var out string
			if err := gocty.FromCtyValue(val, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	}
}

// ToInt coerces the selected value to an int.
func ToInt() providers.TypeCoercion {
	return func(v any) (any, error) {
		return coerceVia(v, cty.Number, func(val cty.Value) (any, error) {
			var out int
			if err := gocty.FromCtyValue(val, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	}
}

// ToBool coerces the selected value to a bool.
func ToBool() providers.TypeCoercion {
	return func(v any) (any, error) {
		return coerceVia(v, cty.Bool, func(val cty.Value) (any, error) {
			var out bool
			if err := gocty.FromCtyValue(val, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	}
}

// ToStringList coerces the selected value (expected []any) to []string.
func ToStringList() providers.TypeCoercion {
	return func(v any) (any, error) {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("invoke: expected a list, got %T", v)
		}
		out := make([]string, len(items))
		for i, item := range items {
			s, err := ToString()(item)
			if err != nil {
				return nil, err
			}
			out[i] = s.(string)
		}
		return out, nil
	}
}

func coerceVia(v any, target cty.Type, extract func(cty.Value) (any, error)) (any, error) {
	if v == nil {
		return nil, nil
	}
	impliedType, err := gocty.ImpliedType(v)
	if err != nil {
		// Fall back to toCtyValue's generic value construction for plain Go
		// scalars gocty can't infer a type for directly.
		val, err2 := toCtyValue(v)
		if err2 != nil {
			return nil, fmt.Errorf("invoke: cannot coerce %T to %s: %w", v, target.FriendlyName(), err)
		}
		converted, err := convert.Convert(val, target)
		if err != nil {
			return nil, fmt.Errorf("invoke: cannot coerce %v to %s: %w", v, target.FriendlyName(), err)
		}
		return extract(converted)
	}
	val, err := gocty.ToCtyValue(v, impliedType)
	if err != nil {
		return nil, fmt.Errorf("invoke: cannot coerce %T to %s: %w", v, target.FriendlyName(), err)
	}
	converted, err := convert.Convert(val, target)
	if err != nil {
		return nil, fmt.Errorf("invoke: cannot coerce %v to %s: %w", v, target.FriendlyName(), err)
	}
	return extract(converted)
}

func toCtyValue(v any) (cty.Value, error) {
	switch t := v.(type) {
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	default:
		return cty.NilVal, fmt.Errorf("invoke: unsupported scalar type %T", v)
	}
}
