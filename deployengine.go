// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package deployengine is the public facade of the deployment engine: parse
// a template, register providers, create and execute change sets against
// named stacks, and tear them down again. Everything under internal/ is
// wiring this package assembles; callers never construct those types
// directly.
package deployengine

import (
	"context"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/invoke"
	"github.com/stackforge/deployengine/internal/lang"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/stack"
	"github.com/stackforge/deployengine/internal/template"
)

// Re-exported error values and predicates so callers never need to import
// internal/engineerrors directly.
var (
	ErrNoStackUpdates   = engineerrors.ErrNoStackUpdates
	ErrDeployInProgress = engineerrors.ErrDeployInProgress
)

// IsDependencyNotYetSatisfied reports whether err is the internal deferral
// signal the deployment loop uses; exposed only so callers of a custom
// provider can recognize it when they write one.
func IsDependencyNotYetSatisfied(err error) bool {
	return engineerrors.IsDependencyNotYetSatisfied(err)
}

// Template is the parsed form of a deployment document.
type Template = template.Template

// ParseTemplate parses a JSON- or YAML-encoded template document.
func ParseTemplate(body []byte) (*Template, error) {
	return template.Parse(body)
}

// Provider is the capability set a resource type plugs into the engine
// with. See internal/providers.Interface for the full method set.
type Provider = providers.Interface

// ServiceClient is the narrow interface a backing API client exposes to the
// action invoker.
type ServiceClient = providers.ServiceClient

// ServiceClientResolver locates the ServiceClient for a resource type
// within a given stack.
type ServiceClientResolver = providers.ServiceClientResolver

// DynamicReferenceResolver resolves {{resolve:service:key}} tokens against
// a parameter store / secrets manager backend.
type DynamicReferenceResolver = lang.DynamicReferenceResolver

// ParameterInput is one caller-supplied parameter value for a change set.
type ParameterInput = stack.ParameterInput

// ChangeSet is a computed, not-yet-executed set of per-resource changes.
type ChangeSet = stack.ChangeSet

// Stack is a deployed (or in-progress) stack's controller-side record.
type Stack = stack.Stack

// Output is one resolved stack output.
type Output = stack.Output

// Engine is the deployment engine instance: a provider registry plus the
// stack controller built from it. Construct one with New and keep it for
// the lifetime of the process; it is safe for concurrent use across many
// stacks.
type Engine struct {
	registry   *providers.Registry
	controller *stack.Controller
}

// New builds an Engine from the given options. A Provider must be supplied
// via WithProviders for every resource type templates will declare;
// resources of an unregistered type fail to deploy with an
// UnknownResourceType error rather than panicking.
func New(opts ...Option) *Engine {
	cfg := &config{
		partition: "aws",
		urlSuffix: "amazonaws.com",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	registry := providers.NewRegistry()
	for _, p := range cfg.providers {
		registry.Register(p)
	}

	invoker := invoke.New(cfg.serviceClients, cfg.accountID)
	controller := stack.NewController(registry, invoker)
	controller.Region = cfg.region
	controller.Partition = cfg.partition
	controller.AccountID = cfg.accountID
	controller.URLSuffix = cfg.urlSuffix
	controller.APIGatewayPort = cfg.apiGatewayPort
	controller.DynamicResolver = cfg.dynamicResolver

	return &Engine{registry: registry, controller: controller}
}

// CreateChangeSet diffs tmpl against the named stack's currently deployed
// template and resolves parameters, without deploying anything.
func (e *Engine) CreateChangeSet(ctx context.Context, stackName string, tmpl *Template, params []ParameterInput, capabilities []string) (*ChangeSet, error) {
	return e.controller.CreateChangeSet(ctx, stackName, tmpl, params, capabilities)
}

// ExecuteChangeSet deploys cs in the background and returns immediately.
// Poll GetStack to observe progress and completion.
func (e *Engine) ExecuteChangeSet(ctx context.Context, cs *ChangeSet) error {
	return e.controller.ExecuteChangeSet(ctx, cs)
}

// DeleteStack removes every resource of the named stack's currently
// deployed template, in the background.
func (e *Engine) DeleteStack(ctx context.Context, stackName string) error {
	return e.controller.DeleteStack(ctx, stackName)
}

// GetStack returns the controller's record of the named stack, or
// ok=false if there is none. A record exists as soon as a change set is
// created or a delete is requested for that name.
func (e *Engine) GetStack(name string) (*Stack, bool) {
	return e.controller.Get(name)
}
