// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lang

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// substitutionPattern matches "${Name}" and "${Logical.Attribute}" tokens
// inside an Fn::Sub template string (spec.md §4.2).
var substitutionPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func evalRef(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	logicalID, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Ref target must be a string, got %T", arg)
	}

	if v, ok := e.sc.pseudoParameter(logicalID); ok {
		return v, nil
	}
	if v, ok := e.sc.Parameters[logicalID]; ok {
		return v, nil
	}

	res, ok := e.sc.Resources[logicalID]
	if !ok {
		return nil, fmt.Errorf("lang: Ref to unknown logical id %q", logicalID)
	}
	if !isResourceComplete(res.ResourceStatus) {
		return nil, dependencyErr(logicalID, "resource has not finished deploying")
	}
	provider, ok := e.sc.Registry.Lookup(res.Type)
	if !ok {
		return nil, fmt.Errorf("lang: no provider registered for type %q", res.Type)
	}
	return provider.Ref(ctx, res)
}

func evalGetAtt(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	logicalID, attrArg, err := getAttArgs(arg)
	if err != nil {
		return nil, err
	}

	attrResolved, err := e.eval(ctx, attrArg, depth+1)
	if err != nil {
		return nil, err
	}
	attrName, ok := attrResolved.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::GetAtt attribute name must resolve to a string, got %T", attrResolved)
	}

	res, ok := e.sc.Resources[logicalID]
	if !ok {
		return nil, fmt.Errorf("lang: Fn::GetAtt to unknown logical id %q", logicalID)
	}
	if !isResourceComplete(res.ResourceStatus) {
		return nil, dependencyErr(logicalID, "resource has not finished deploying")
	}
	provider, ok := e.sc.Registry.Lookup(res.Type)
	if !ok {
		return nil, fmt.Errorf("lang: no provider registered for type %q", res.Type)
	}
	val, found, err := provider.Attribute(ctx, res, attrName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dependencyErr(logicalID, fmt.Sprintf("attribute %q is not yet available", attrName))
	}
	return val, nil
}

// getAttArgs normalizes both accepted Fn::GetAtt forms: the canonical
// two-element list ["Logical", "Attr"] and the dotted-string shorthand
// "Logical.Attr" some callers (and Fn::Sub's own ${a.b} syntax) produce.
func getAttArgs(arg any) (logicalID string, attrArg any, err error) {
	switch v := arg.(type) {
	case []any:
		if len(v) != 2 {
			return "", nil, fmt.Errorf("lang: Fn::GetAtt expects [logicalId, attribute], got %d elements", len(v))
		}
		id, ok := v[0].(string)
		if !ok {
			return "", nil, fmt.Errorf("lang: Fn::GetAtt logical id must be a string, got %T", v[0])
		}
		return id, v[1], nil
	case string:
		parts := strings.SplitN(v, ".", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("lang: Fn::GetAtt string form must be \"Logical.Attr\", got %q", v)
		}
		return parts[0], parts[1], nil
	default:
		return "", nil, fmt.Errorf("lang: unsupported Fn::GetAtt argument shape %T", arg)
	}
}

func evalSub(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	var tmpl string
	extra := map[string]any{}

	switch v := arg.(type) {
	case string:
		tmpl = v
	case []any:
		if len(v) != 2 {
			return nil, fmt.Errorf("lang: Fn::Sub two-argument form expects [template, vars]")
		}
		t, ok := v[0].(string)
		if !ok {
			return nil, fmt.Errorf("lang: Fn::Sub template must be a string, got %T", v[0])
		}
		tmpl = t
		varsMap, ok := v[1].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lang: Fn::Sub vars argument must be an object, got %T", v[1])
		}
		extra = varsMap
	default:
		return nil, fmt.Errorf("lang: unsupported Fn::Sub argument shape %T", arg)
	}

	var evalErr error
	result := substitutionPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		name := match[2 : len(match)-1] // strip "${" and "}"

		if raw, ok := extra[name]; ok {
			v, err := e.eval(ctx, raw, depth+1)
			if err != nil {
				evalErr = err
				return match
			}
			return stringify(v)
		}
		if strings.Contains(name, ".") {
			val, err := evalGetAtt(e, ctx, name, depth+1)
			if err != nil {
				evalErr = err
				return match
			}
			return stringify(val)
		}
		v, err := evalRef(e, ctx, name, depth+1)
		if err != nil {
			evalErr = err
			return match
		}
		return stringify(v)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

func evalJoin(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("lang: Fn::Join expects [separator, list]")
	}
	sepVal, err := e.eval(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	sep, ok := sepVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Join separator must resolve to a string, got %T", sepVal)
	}
	itemsVal, err := e.eval(ctx, parts[1], depth+1)
	if err != nil {
		return nil, err
	}
	items, ok := itemsVal.([]any)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Join items must resolve to a list, got %T", itemsVal)
	}
	strs := make([]string, len(items))
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("lang: Fn::Join cannot join a null value at index %d", i)
		}
		strs[i] = stringify(it)
	}
	return strings.Join(strs, sep), nil
}

func evalSplit(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("lang: Fn::Split expects [delimiter, string]")
	}
	sepVal, err := e.eval(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	sep, ok := sepVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Split delimiter must resolve to a string, got %T", sepVal)
	}
	strVal, err := e.eval(ctx, parts[1], depth+1)
	if err != nil {
		return nil, err
	}
	str, ok := strVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Split input must resolve to a string, got %T", strVal)
	}
	pieces := strings.Split(str, sep)
	out := make([]any, len(pieces))
	for i, p := range pieces {
		out[i] = p
	}
	return out, nil
}

func evalSelect(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("lang: Fn::Select expects [index, list]")
	}
	idxVal, err := e.eval(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	idx, err := toInt(idxVal)
	if err != nil {
		return nil, fmt.Errorf("lang: Fn::Select index: %w", err)
	}
	listVal, err := e.eval(ctx, parts[1], depth+1)
	if err != nil {
		return nil, err
	}
	list, ok := listVal.([]any)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Select list must resolve to a list, got %T", listVal)
	}
	if idx < 0 || idx >= len(list) {
		return nil, fmt.Errorf("lang: Fn::Select index %d out of range (len %d)", idx, len(list))
	}
	return list[idx], nil
}

func evalFindInMap(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 3 {
		return nil, fmt.Errorf("lang: Fn::FindInMap expects [mapName, topLevelKey, secondLevelKey]")
	}
	mapNameVal, err := e.eval(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	mapName, ok := mapNameVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::FindInMap map name must resolve to a string, got %T", mapNameVal)
	}
	topVal, err := e.eval(ctx, parts[1], depth+1)
	if err != nil {
		return nil, err
	}
	top, ok := topVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::FindInMap top-level key must resolve to a string, got %T", topVal)
	}
	keyVal, err := e.eval(ctx, parts[2], depth+1)
	if err != nil {
		return nil, err
	}
	key, ok := keyVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::FindInMap second-level key must resolve to a string, got %T", keyVal)
	}

	topLevel, ok := e.sc.Mappings[mapName]
	if !ok {
		return nil, fmt.Errorf("lang: Fn::FindInMap unknown map %q", mapName)
	}
	leaf, ok := topLevel[top]
	if !ok {
		return nil, fmt.Errorf("lang: Fn::FindInMap unknown top-level key %q in map %q", top, mapName)
	}
	// A missing leaf key resolves to nil, not an error, matching the
	// reference engine's `result.get(key)` (a plain dict .get with no
	// default raises nothing).
	return leaf[key], nil
}

func evalImportValue(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	nameVal, err := e.eval(ctx, arg, depth+1)
	if err != nil {
		return nil, err
	}
	name, ok := nameVal.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::ImportValue name must resolve to a string, got %T", nameVal)
	}
	if e.sc.Exports == nil {
		return nil, nil
	}
	v, ok := e.sc.Exports.Lookup(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func evalIf(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 3 {
		return nil, fmt.Errorf("lang: Fn::If expects [condition, trueValue, falseValue]")
	}
	cond, err := e.evalConditionValue(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	if cond {
		return e.eval(ctx, parts[1], depth+1)
	}
	return e.eval(ctx, parts[2], depth+1)
}

func evalNot(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 1 {
		return nil, fmt.Errorf("lang: Fn::Not expects a single-element list")
	}
	v, err := e.evalConditionValue(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	return !v, nil
}

func evalAnd(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	return evalBoolChain(e, ctx, arg, depth, true)
}

func evalOr(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	return evalBoolChain(e, ctx, arg, depth, false)
}

func evalBoolChain(e *Evaluator, ctx context.Context, arg any, depth int, isAnd bool) (any, error) {
	conds, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("lang: expected a list of conditions")
	}
	for _, c := range conds {
		v, err := e.evalConditionValue(ctx, c, depth+1)
		if err != nil {
			return nil, err
		}
		if isAnd && !v {
			return false, nil
		}
		if !isAnd && v {
			return true, nil
		}
	}
	return isAnd, nil
}

func evalEquals(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	parts, ok := arg.([]any)
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("lang: Fn::Equals expects [value1, value2]")
	}
	v1, err := e.eval(ctx, parts[0], depth+1)
	if err != nil {
		return nil, err
	}
	v2, err := e.eval(ctx, parts[1], depth+1)
	if err != nil {
		return nil, err
	}
	return stringify(v1) == stringify(v2), nil
}

func evalConditionFn(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	name, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("lang: Fn::Condition expects a condition name, got %T", arg)
	}
	expr, ok := e.sc.Conditions[name]
	if !ok {
		return nil, fmt.Errorf("lang: unknown condition %q", name)
	}
	return e.evalConditionValue(ctx, expr, depth+1)
}

// evalConditionValue evaluates something used in boolean position: a named
// condition (string naming an entry of Conditions), an inline intrinsic
// expression, or an already-boolean value.
func (e *Evaluator) evalConditionValue(ctx context.Context, raw any, depth int) (bool, error) {
	if name, ok := raw.(string); ok {
		if expr, ok := e.sc.Conditions[name]; ok {
			return e.evalConditionValue(ctx, expr, depth+1)
		}
	}
	v, err := e.eval(ctx, raw, depth+1)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func evalGetAZs(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	regionVal, err := e.eval(ctx, arg, depth+1)
	if err != nil {
		return nil, err
	}
	region, _ := regionVal.(string)
	if region == "" {
		region = e.sc.Region
	}
	return []any{region + "a", region + "b", region + "c", region + "d"}, nil
}

func evalBase64(e *Evaluator, ctx context.Context, arg any, depth int) (any, error) {
	v, err := e.eval(ctx, arg, depth+1)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString([]byte(stringify(v))), nil
}

// truthy interprets a resolved value in boolean position, matching Python's
// permissive truthiness for the handful of shapes the template language
// actually produces here.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	case nil:
		return false
	default:
		return true
	}
}

// stringify renders a value the way Fn::Join/Fn::Sub/Fn::Equals need it:
// CloudFormation templates are JSON, so numbers decode as float64; we print
// whole numbers without a trailing ".0" so `Fn::Equals [1, "1"]` is true,
// matching spec.md §8's boundary example.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}
