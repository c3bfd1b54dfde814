// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package lang is the intrinsic evaluator: it rewrites a template value tree
// by resolving every Ref, Fn::GetAtt, Fn::Sub, and the rest of spec.md
// §4.2's intrinsic set against a StackContext. It is the largest single
// component of the engine (spec.md §2 budgets it at ~30% of the core), the
// Go analogue of the teacher's internal/lang package's Scope/EvalContext,
// generalized from HCL expressions to an untyped JSON-shaped value tree.
package lang

import (
	"context"

	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// NoValue is the sentinel returned for {"Ref": "AWS::NoValue"}. Containers
// (maps and lists) encountered while rewriting the tree strip any element
// that evaluates to NoValue, matching the reference cloud's behavior of
// omitting a property entirely when it resolves to AWS::NoValue.
type NoValue struct{}

// IsNoValue reports whether v is the AWS::NoValue sentinel.
func IsNoValue(v any) bool {
	_, ok := v.(NoValue)
	return ok
}

// ExportsProvider looks up a cross-stack export by name. A missing export
// resolves to ok=false, which Fn::ImportValue turns into nil rather than an
// error (spec.md §4.2, §8 boundary behavior).
type ExportsProvider interface {
	Lookup(name string) (string, bool)
}

// DynamicReferenceResolver resolves a {{resolve:service:key}} dynamic
// reference (spec.md §4.2). service is one of "ssm", "ssm-secure",
// "secretsmanager"; key is the remainder of the reference.
type DynamicReferenceResolver interface {
	Resolve(ctx context.Context, service, key string) (string, error)
}

// StackContext is everything the evaluator needs about the stack it is
// evaluating against: pseudo-parameter values, the live resource map,
// resolved parameter values, named conditions and mappings, and the two
// external collaborators (exports, dynamic references).
type StackContext struct {
	StackName string
	StackID   string
	Region    string
	Partition string
	AccountID string
	URLSuffix string

	// APIGatewayPort is substituted into API Gateway invoke URLs produced
	// by string evaluation, so generated URLs route to the local emulator
	// instead of the real service (spec.md §4.2 post-processing step).
	APIGatewayPort string

	Resources  map[string]*template.Resource
	Parameters map[string]any
	Conditions map[string]any
	Mappings   map[string]map[string]map[string]any

	Registry        *providers.Registry
	Exports         ExportsProvider
	DynamicResolver DynamicReferenceResolver
}

// pseudoParameter returns the value of the named AWS::* pseudo-parameter, or
// ok=false if name is not one, computed fresh each call so a StackContext
// can be reused safely across many Evaluate calls.
func (sc *StackContext) pseudoParameter(name string) (any, bool) {
	switch name {
	case "AWS::Region":
		return sc.Region, true
	case "AWS::Partition":
		return sc.Partition, true
	case "AWS::StackName":
		return sc.StackName, true
	case "AWS::StackId":
		if sc.StackID != "" {
			return sc.StackID, true
		}
		return sc.StackName, true
	case "AWS::AccountId":
		return sc.AccountID, true
	case "AWS::NoValue":
		return NoValue{}, true
	case "AWS::URLSuffix":
		return sc.URLSuffix, true
	case "AWS::NotificationARNs":
		return []any{}, true
	default:
		return nil, false
	}
}
