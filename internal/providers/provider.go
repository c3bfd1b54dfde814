// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package providers defines the resource provider capability set
// (spec.md §4.3) as a Go interface, plus the action-descriptor types the
// action invoker (internal/invoke) consumes (spec.md §4.3/§4.4). This
// replaces the original engine's duck-typed class hierarchy with the
// interface-plus-tagged-variant shape called for by spec.md §9's
// "Polymorphism" design note, in the style of this repository's teacher
// (internal/providers.Interface + internal/builtin/providers/memory).
package providers

import (
	"context"

	"github.com/stackforge/deployengine/internal/template"
)

// Action is one of the three verbs a provider's deploy templates are keyed
// by. It is distinct from plans.ChangeAction (Add/Modify/Remove): a Modify
// change dispatches the Update action, and so on (see ActionFor).
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Interface is the capability set every resource provider implements.
// Methods that can fail take a context so a provider backed by a real
// service client can honor cancellation/timeouts; the engine itself never
// imposes a deadline (spec.md §5 "Cancellation & timeouts: None at the
// engine level").
type Interface interface {
	// TypeName returns the registry key, e.g. "AWS::Route53::RecordSet".
	TypeName() string

	// AddDefaults injects any required fields the author omitted (spec.md
	// §4.3), such as a generated resource name. It mutates res.Properties
	// in place.
	AddDefaults(ctx context.Context, res *template.Resource, stackName string)

	// IsUpdatable reports whether Modify is supported at all for this type.
	IsUpdatable() bool

	// Ref returns the value a bare {"Ref": logicalId} resolves to.
	Ref(ctx context.Context, res *template.Resource) (any, error)

	// Attribute returns the value an Fn::GetAtt [logicalId, name] resolves
	// to, or ok=false if the attribute is unknown to this provider.
	Attribute(ctx context.Context, res *template.Resource, name string) (any, bool, error)

	// PhysicalID returns the stable external identifier, or "" if the
	// resource has not been created yet.
	PhysicalID(res *template.Resource) string

	// FetchState refreshes res.Properties (and PhysicalID, if discoverable)
	// from the backing service. It is used by the deployment loop to decide
	// whether an Add has already been satisfied out of band (spec.md §4.6).
	FetchState(ctx context.Context, stackName string, res *template.Resource) error

	// DeployTemplates returns the action descriptors this provider supports.
	// A provider is never required to support every action; Update is
	// typically absent when IsUpdatable is false.
	DeployTemplates() map[Action][]Descriptor
}

// DescriptorKind distinguishes the two descriptor shapes spec.md §4.3
// allows: a bare callable, or the richer {function, parameters,
// result_handler, types} form.
type DescriptorKind int

const (
	KindDirect DescriptorKind = iota
	KindServiceMethod
)

// DirectFunc is invoked with the arguments spec.md §4.4 step 3 describes for
// a callable `function`: resourceId, resources, resourceType, descriptor,
// stackName.
type DirectFunc func(ctx context.Context, resourceID string, resources map[string]*template.Resource, resourceType string, desc Descriptor, stackName string) (any, error)

// ParameterFunc computes call parameters directly, the callable escape
// hatch described by spec.md §4.3/§9 ("Dynamic parameter schemas").
type ParameterFunc func(ctx context.Context, props map[string]any, stackName string, resources map[string]*template.Resource, resourceID string) (map[string]any, error)

// Selector extracts one API parameter's value from a resource's resolved
// properties. Several selectors may be tried for the same API name, in
// order, with the first non-null winning (spec.md §4.4 step 1).
type Selector func(props map[string]any) (any, bool)

// Prop selects a single top-level property by name.
func Prop(name string) Selector {
	return func(props map[string]any) (any, bool) {
		v, ok := props[name]
		return v, ok && v != nil
	}
}

// Const always resolves to the same literal value; useful for API
// parameters that don't vary per resource.
func Const(value any) Selector {
	return func(map[string]any) (any, bool) { return value, true }
}

// FirstOf tries each selector in order and returns the first non-null
// result.
func FirstOf(selectors ...Selector) Selector {
	return func(props map[string]any) (any, bool) {
		for _, s := range selectors {
			if v, ok := s(props); ok {
				return v, true
			}
		}
		return nil, false
	}
}

// ParameterSchema maps an API parameter name to the selector(s) that
// produce its value from the resource's resolved properties.
type ParameterSchema map[string]Selector

// Resolve runs every selector in the schema against props.
func (s ParameterSchema) Resolve(props map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for apiName, selector := range s {
		if v, ok := selector(props); ok {
			out[apiName] = v
		}
	}
	return out
}

// TypeCoercion converts a raw selected value into the shape the backing
// call expects (spec.md §4.3 "types lists per-field type coercions").
type TypeCoercion func(any) (any, error)

// ResultHandler patches a resource's live state after a successful call
// (spec.md §4.4 step 6), e.g. capturing a minted PhysicalResourceId.
type ResultHandler func(ctx context.Context, result any, resourceID string, resources map[string]*template.Resource, resourceType string) error

// Descriptor is one action's call description. Exactly one of DirectFunc or
// ServiceMethod is meaningful, selected by Kind.
type Descriptor struct {
	Kind DescriptorKind

	// KindDirect
	DirectFunc DirectFunc

	// KindServiceMethod
	ServiceMethod string
	Parameters    ParameterSchema
	ParameterFunc ParameterFunc
	ResultHandler ResultHandler
	Types         map[string]TypeCoercion
}

// HasParameterFunc reports whether the descriptor computes its call
// parameters with a callable rather than a selector schema.
func (d Descriptor) HasParameterFunc() bool {
	return d.ParameterFunc != nil
}
