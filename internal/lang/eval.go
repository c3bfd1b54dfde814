// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lang

import (
	"context"
	"fmt"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/logging"
	"github.com/stackforge/deployengine/internal/template"
)

// maxRecursionDepth bounds the evaluator's own call depth so that a cyclic
// chain of cross-stack exports can't recurse forever (spec.md §4.2
// "Recursion safety", §9 design note: "use an explicit visited-set keyed by
// (stack, export-name) rather than relying on a stack depth cap" is the
// recommended follow-up; the depth cap is the behavior spec.md's tests
// actually pin down, so it is what we implement here).
const maxRecursionDepth = 64

var log = logging.Named("lang")

// Evaluator rewrites value trees against a fixed StackContext. It holds no
// mutable state of its own and is safe to reuse across many Evaluate calls
// (spec.md §8 "Intrinsic purity": the same tree evaluated twice against the
// same state yields identical results).
type Evaluator struct {
	sc *StackContext
}

// New returns an Evaluator bound to sc.
func New(sc *StackContext) *Evaluator {
	return &Evaluator{sc: sc}
}

// Evaluate recursively rewrites value, resolving every intrinsic it finds.
func (e *Evaluator) Evaluate(ctx context.Context, value any) (any, error) {
	return e.eval(ctx, value, 0)
}

// EvaluateCondition resolves raw (a condition name, or an inline Fn::And/
// Fn::Or/Fn::Not/Fn::Equals/Fn::Condition expression) to a bool, for callers
// outside this package that need to decide whether a resource's Condition
// currently holds (spec.md §4.6).
func (e *Evaluator) EvaluateCondition(ctx context.Context, raw any) (bool, error) {
	return e.evalConditionValue(ctx, raw, 0)
}

func (e *Evaluator) eval(ctx context.Context, value any, depth int) (any, error) {
	if depth > maxRecursionDepth {
		// Tolerate cycles introduced by circular cross-stack exports by
		// giving up and returning the value unresolved, rather than
		// overflowing the call stack.
		log.Warn("recursion depth exceeded, returning value unresolved", "depth", depth)
		return value, nil
	}

	switch v := value.(type) {
	case map[string]any:
		if fn, arg, ok := asIntrinsic(v); ok {
			impl, ok := intrinsics[fn]
			if !ok {
				return nil, fmt.Errorf("lang: unsupported intrinsic function %q", fn)
			}
			return impl(e, ctx, arg, depth)
		}
		out := make(map[string]any, len(v))
		for k, inner := range v {
			rv, err := e.eval(ctx, inner, depth+1)
			if err != nil {
				return nil, err
			}
			if IsNoValue(rv) {
				continue
			}
			out[k] = rv
		}
		return out, nil

	case []any:
		out := make([]any, 0, len(v))
		for _, inner := range v {
			rv, err := e.eval(ctx, inner, depth+1)
			if err != nil {
				return nil, err
			}
			if IsNoValue(rv) {
				continue
			}
			out = append(out, rv)
		}
		return out, nil

	case string:
		return e.resolveStringValue(ctx, v)

	default:
		return v, nil
	}
}

// asIntrinsic reports whether v is a single-key mapping whose key is one of
// the recognized intrinsic function names (spec.md §3: "An intrinsic is a
// single-key mapping whose key matches Ref, Fn::GetAtt, ...").
func asIntrinsic(v map[string]any) (name string, arg any, ok bool) {
	if len(v) != 1 {
		return "", nil, false
	}
	for k, val := range v {
		if _, known := intrinsics[k]; known {
			return k, val, true
		}
		return "", nil, false
	}
	return "", nil, false
}

type intrinsicFunc func(e *Evaluator, ctx context.Context, arg any, depth int) (any, error)

var intrinsics map[string]intrinsicFunc

func init() {
	intrinsics = map[string]intrinsicFunc{
		"Ref":             evalRef,
		"Fn::GetAtt":      evalGetAtt,
		"Fn::Sub":         evalSub,
		"Fn::Join":        evalJoin,
		"Fn::Split":       evalSplit,
		"Fn::Select":      evalSelect,
		"Fn::FindInMap":   evalFindInMap,
		"Fn::ImportValue": evalImportValue,
		"Fn::If":          evalIf,
		"Fn::Not":         evalNot,
		"Fn::And":         evalAnd,
		"Fn::Or":          evalOr,
		"Fn::Equals":      evalEquals,
		"Fn::Condition":   evalConditionFn,
		"Fn::GetAZs":      evalGetAZs,
		"Fn::Base64":      evalBase64,
	}
}

// isResourceComplete reports whether a resource's status is one of the
// terminal *_COMPLETE statuses required by spec.md §3's ordering invariant.
func isResourceComplete(status string) bool {
	switch status {
	case template.StatusCreateComplete, template.StatusUpdateComplete:
		return true
	default:
		return false
	}
}

func dependencyErr(logicalID, reason string) error {
	return engineerrors.NewDependencyNotYetSatisfied(logicalID, reason)
}
