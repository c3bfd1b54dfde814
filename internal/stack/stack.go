// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package stack is the stack controller (spec.md §4.7/§4.8): it owns the
// stack status state machine, merges incoming parameters against a stack's
// previous values, builds and executes change sets, runs deletes, and
// resolves outputs once deployment finishes. It is the component the
// top-level deployengine facade talks to directly.
package stack

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackforge/deployengine/internal/deploy"
	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/idgen"
	"github.com/stackforge/deployengine/internal/invoke"
	"github.com/stackforge/deployengine/internal/lang"
	"github.com/stackforge/deployengine/internal/logging"
	"github.com/stackforge/deployengine/internal/plans"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// Status values for the stack itself, distinct from (but following the same
// naming convention as) template.Resource's per-resource status constants.
const (
	StatusCreateInProgress  = template.StatusCreateInProgress
	StatusCreateComplete    = template.StatusCreateComplete
	StatusCreateFailed      = template.StatusCreateFailed
	StatusUpdateInProgress  = template.StatusUpdateInProgress
	StatusUpdateComplete    = template.StatusUpdateComplete
	StatusUpdateFailed      = template.StatusUpdateFailed
	StatusDeleteInProgress  = template.StatusDeleteInProgress
	StatusDeleteComplete    = template.StatusDeleteComplete
	StatusDeleteFailed      = template.StatusDeleteFailed
	StatusReviewInProgress  = "REVIEW_IN_PROGRESS"
)

// maxDeleteCycles bounds how many times DeleteStack retries its deploy pass
// before giving up (spec.md §4.7: deletes retry more aggressively than
// creates/updates since a transient dependency-not-satisfied on delete is
// common when resources are torn down in the wrong order the first time).
const maxDeleteCycles = 10

// Output is a resolved stack output (spec.md §4.8).
type Output struct {
	LogicalID   string
	Description string
	Value       any
	ExportName  string
	ResolveErr  error
}

// Stack is the controller's in-memory record of one deployed (or
// in-progress) stack.
type Stack struct {
	Name         string
	ID           string
	Status       string
	StatusReason string
	Template     *template.Template
	Parameters   map[string]any
	NoEcho       map[string]bool
	Capabilities []string
	Outputs      []Output

	inProgress bool
}

// exportsIndex implements lang.ExportsProvider over every stack's resolved
// outputs that declared an Export.
type exportsIndex struct {
	controller *Controller
}

func (e *exportsIndex) Lookup(name string) (string, bool) {
	e.controller.mu.Lock()
	defer e.controller.mu.Unlock()
	for _, s := range e.controller.stacks {
		for _, o := range s.Outputs {
			if o.ExportName == name && o.ResolveErr == nil {
				if str, ok := o.Value.(string); ok {
					return str, true
				}
			}
		}
	}
	return "", false
}

// Controller coordinates every stack in a region/account/partition scope.
// It is safe for concurrent use; a single stack's deploy/delete operations
// are serialized against each other by Stack.inProgress.
type Controller struct {
	mu     sync.Mutex
	stacks map[string]*Stack

	Registry        *providers.Registry
	Invoker         *invoke.Invoker
	DynamicResolver lang.DynamicReferenceResolver

	Region         string
	Partition      string
	AccountID      string
	URLSuffix      string
	APIGatewayPort string
}

// NewController returns a Controller ready to manage stacks.
func NewController(registry *providers.Registry, invoker *invoke.Invoker) *Controller {
	return &Controller{
		stacks:    make(map[string]*Stack),
		Registry:  registry,
		Invoker:   invoker,
		Partition: "aws",
		URLSuffix: "amazonaws.com",
	}
}

func (c *Controller) getOrCreateStack(name string) *Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stacks[name]
	if !ok {
		s = &Stack{Name: name, ID: idgen.New(), Status: StatusReviewInProgress}
		c.stacks[name] = s
	}
	return s
}

// Get returns the named stack, or ok=false if the controller has no record
// of it. A record, in REVIEW_IN_PROGRESS, exists as soon as a change set is
// created or a delete is requested for that name.
func (c *Controller) Get(name string) (*Stack, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stacks[name]
	return s, ok
}

// ChangeSet is a computed set of changes awaiting execution.
type ChangeSet struct {
	ID           string
	StackName    string
	Template     *template.Template
	Parameters   map[string]any
	NoEcho       map[string]bool
	Capabilities []string
	Changes      []plans.ResourceChange
}

// ParameterInput is one caller-supplied parameter value for a change set,
// mirroring spec.md §4.7's {Key, Value, UsePreviousValue} shape.
type ParameterInput struct {
	Key              string
	Value            string
	UsePreviousValue bool
}

// CreateChangeSet diffs tmpl against the stack's currently deployed
// template (none, for a brand-new stack) and resolves parameters, but does
// not deploy anything; ExecuteChangeSet does that. Returns
// engineerrors.ErrNoStackUpdates if tmpl is identical to what's deployed.
func (c *Controller) CreateChangeSet(ctx context.Context, stackName string, tmpl *template.Template, inputs []ParameterInput, capabilities []string) (*ChangeSet, error) {
	s := c.getOrCreateStack(stackName)

	params, noEcho, err := c.mergeParameters(ctx, s, tmpl, inputs)
	if err != nil {
		return nil, fmt.Errorf("stack: resolving parameters: %w", err)
	}

	changes, err := plans.Diff(s.Template, tmpl, true)
	if err != nil {
		return nil, err
	}

	return &ChangeSet{
		ID:           idgen.New(),
		StackName:    stackName,
		Template:     tmpl,
		Parameters:   params,
		NoEcho:       noEcho,
		Capabilities: capabilities,
		Changes:      changes,
	}, nil
}

// mergeParameters resolves every parameter the template declares: a
// UsePreviousValue input reuses the stack's last resolved value, an
// explicit Value is taken as given (and resolved through the dynamic
// reference mechanism when the declared Type is the SSM parameter-store
// type), and anything left unset falls back to the template's Default.
func (c *Controller) mergeParameters(ctx context.Context, s *Stack, tmpl *template.Template, inputs []ParameterInput) (map[string]any, map[string]bool, error) {
	byKey := make(map[string]ParameterInput, len(inputs))
	for _, in := range inputs {
		byKey[in.Key] = in
	}

	resolved := make(map[string]any, len(tmpl.Parameters))
	noEcho := make(map[string]bool, len(tmpl.Parameters))

	for name, def := range tmpl.Parameters {
		noEcho[name] = def.NoEcho
		in, provided := byKey[name]

		var raw any
		switch {
		case provided && in.UsePreviousValue:
			if s.Parameters != nil {
				raw = s.Parameters[name]
			}
		case provided:
			raw = in.Value
		default:
			raw = def.Default
		}

		if str, ok := raw.(string); ok && def.Type == template.ParameterTypeSSMString && c.DynamicResolver != nil {
			v, err := c.DynamicResolver.Resolve(ctx, "ssm", str)
			if err != nil {
				return nil, nil, fmt.Errorf("resolving SSM parameter %q: %w", name, err)
			}
			raw = v
		}

		resolved[name] = raw
	}
	return resolved, noEcho, nil
}

// ExecuteChangeSet deploys cs in the background and returns immediately.
// Only one execution may run at a time per stack; a second call while one
// is in flight returns engineerrors.ErrDeployInProgress.
func (c *Controller) ExecuteChangeSet(ctx context.Context, cs *ChangeSet) error {
	s := c.getOrCreateStack(cs.StackName)

	c.mu.Lock()
	if s.inProgress {
		c.mu.Unlock()
		return engineerrors.ErrDeployInProgress
	}
	s.inProgress = true
	isCreate := !isTerminalCompleteStatus(s.Status)
	if isCreate {
		s.Status = StatusCreateInProgress
	} else {
		s.Status = StatusUpdateInProgress
	}
	c.mu.Unlock()

	go c.runChangeSet(context.WithoutCancel(ctx), s, cs, isCreate)
	return nil
}

// isTerminalCompleteStatus reports whether status is a create/update-complete
// state the next apply should be treated as an Update against. Any other
// status — never deployed, still in review, or a previous attempt that
// ended in CREATE_FAILED/UPDATE_FAILED/DELETE_FAILED — is treated as a fresh
// CREATE, matching spec.md §4.7's "UPDATE if stack is in a terminal create/
// update-complete state, else CREATE" (a stack's Template being non-nil is
// not itself that signal: a failed first deploy still leaves Template set).
func isTerminalCompleteStatus(status string) bool {
	return status == StatusCreateComplete || status == StatusUpdateComplete
}

func (c *Controller) runChangeSet(ctx context.Context, s *Stack, cs *ChangeSet, isCreate bool) {
	log := logging.ForStack("stack", s.Name, cs.ID)
	defer func() {
		c.mu.Lock()
		s.inProgress = false
		c.mu.Unlock()
	}()

	sc := c.newStackContext(s, cs.Template, cs.Parameters)
	err := deploy.New(c.Invoker).Run(ctx, sc, cs.Changes, s.Name)

	var outputs []Output
	if err == nil {
		outputs = c.resolveOutputs(ctx, sc, cs.Template)
	}

	c.mu.Lock()
	s.Template = cs.Template
	s.Parameters = cs.Parameters
	s.NoEcho = cs.NoEcho
	if len(cs.Capabilities) > 0 {
		s.Capabilities = cs.Capabilities
	}
	if err != nil {
		log.Error("deployment failed", "error", err)
		s.StatusReason = err.Error()
		if isCreate {
			s.Status = StatusCreateFailed
		} else {
			s.Status = StatusUpdateFailed
		}
		c.mu.Unlock()
		return
	}
	if isCreate {
		s.Status = StatusCreateComplete
	} else {
		s.Status = StatusUpdateComplete
	}
	s.StatusReason = ""
	s.Outputs = outputs
	c.mu.Unlock()
}

// DeleteStack removes every resource in the stack's currently deployed
// template. It retries its deploy pass up to maxDeleteCycles times before
// giving up, since resources that failed to delete on one cycle (because a
// dependent hadn't been removed yet) often succeed once that dependent is
// gone.
func (c *Controller) DeleteStack(ctx context.Context, stackName string) error {
	s := c.getOrCreateStack(stackName)

	c.mu.Lock()
	if s.inProgress {
		c.mu.Unlock()
		return engineerrors.ErrDeployInProgress
	}
	if s.Template == nil {
		c.mu.Unlock()
		return nil
	}
	s.inProgress = true
	s.Status = StatusDeleteInProgress
	c.mu.Unlock()

	go c.runDelete(context.WithoutCancel(ctx), s)
	return nil
}

func (c *Controller) runDelete(ctx context.Context, s *Stack) {
	log := logging.ForStack("stack", s.Name, "")
	defer func() {
		c.mu.Lock()
		s.inProgress = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	tmpl := s.Template
	params := s.Parameters
	c.mu.Unlock()

	changes, err := plans.Diff(tmpl, nil, false)
	if err != nil && err != engineerrors.ErrNoStackUpdates {
		c.failDelete(s, err)
		return
	}

	sc := c.newStackContext(s, tmpl, params)
	var lastErr error
	for cycle := 0; cycle < maxDeleteCycles; cycle++ {
		lastErr = deploy.New(c.Invoker).Run(ctx, sc, changes, s.Name)
		if lastErr == nil {
			break
		}
		log.Warn("delete cycle failed, retrying", "cycle", cycle, "error", lastErr)
		changes = remainingRemovals(sc, changes)
		if len(changes) == 0 {
			lastErr = nil
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lastErr != nil {
		s.Status = StatusDeleteFailed
		s.StatusReason = lastErr.Error()
		return
	}
	s.Status = StatusDeleteComplete
	s.StatusReason = ""
	s.Template = nil
	s.Outputs = nil
}

func (c *Controller) failDelete(s *Stack, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Status = StatusDeleteFailed
	s.StatusReason = err.Error()
}

// remainingRemovals filters changes down to logical ids still present in
// sc.Resources, so a retried delete cycle doesn't re-attempt resources the
// previous cycle already removed.
func remainingRemovals(sc *lang.StackContext, changes []plans.ResourceChange) []plans.ResourceChange {
	out := make([]plans.ResourceChange, 0, len(changes))
	for _, ch := range changes {
		if _, ok := sc.Resources[ch.LogicalID]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Controller) newStackContext(s *Stack, tmpl *template.Template, params map[string]any) *lang.StackContext {
	resources := map[string]*template.Resource{}
	if s.Template != nil {
		for k, v := range s.Template.Resources {
			resources[k] = v
		}
	}
	return &lang.StackContext{
		StackName:      s.Name,
		StackID:        s.ID,
		Region:         c.Region,
		Partition:      c.Partition,
		AccountID:      c.AccountID,
		URLSuffix:      c.URLSuffix,
		APIGatewayPort: c.APIGatewayPort,
		Resources:      resources,
		Parameters:     params,
		Conditions:     tmpl.Conditions,
		Mappings:       tmpl.Mappings,
		Registry:       c.Registry,
		Exports:        &exportsIndex{controller: c},
		DynamicResolver: c.DynamicResolver,
	}
}

// resolveOutputs evaluates every declared output, swallowing individual
// output failures so one bad output doesn't fail the whole deployment
// (spec.md §4.8).
func (c *Controller) resolveOutputs(ctx context.Context, sc *lang.StackContext, tmpl *template.Template) []Output {
	evaluator := lang.New(sc)
	outputs := make([]Output, 0, len(tmpl.Outputs))
	for name, def := range tmpl.Outputs {
		out := Output{LogicalID: name, Description: def.Description}
		v, err := evaluator.Evaluate(ctx, def.Value)
		if err != nil {
			out.ResolveErr = err
			outputs = append(outputs, out)
			continue
		}
		out.Value = v
		if def.Export != nil {
			nameVal, err := evaluator.Evaluate(ctx, def.Export.Name)
			if err == nil {
				if str, ok := nameVal.(string); ok {
					out.ExportName = str
				}
			}
		}
		outputs = append(outputs, out)
	}
	return outputs
}
