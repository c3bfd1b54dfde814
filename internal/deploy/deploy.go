// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package deploy is the deployment loop (spec.md §4.6): it drives a set of
// plans.ResourceChange entries to completion by repeatedly attempting every
// change still pending, deferring any whose dependencies aren't satisfied
// yet, until either everything completes, a pass makes no progress, or the
// iteration cap is reached.
package deploy

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/invoke"
	"github.com/stackforge/deployengine/internal/lang"
	"github.com/stackforge/deployengine/internal/logging"
	"github.com/stackforge/deployengine/internal/plans"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// maxIters bounds the number of full passes over the pending change set
// (spec.md §4.6: "the loop gives up after 30 passes rather than spinning
// forever on a template that can never converge").
const maxIters = 30

var tracer = otel.Tracer("github.com/stackforge/deployengine/internal/deploy")

// Deployer drives a stack's change set to completion against a live
// StackContext, dispatching each resource through the provider registry and
// the action invoker.
type Deployer struct {
	Invoker *invoke.Invoker
}

// New returns a Deployer that dispatches calls through invoker.
func New(invoker *invoke.Invoker) *Deployer {
	return &Deployer{Invoker: invoker}
}

// Run deploys every change in changes against sc, mutating sc.Resources in
// place as resources complete so later passes (and the intrinsic evaluator)
// observe up-to-date state. It returns once every change has reached a
// terminal status, or an unrecoverable error: a pass that deferred every
// remaining change without completing any of them, the iteration cap being
// exceeded, or a single resource's provider call failing outright
// (engineerrors.ServiceFailure), which aborts the whole stack immediately.
func (d *Deployer) Run(ctx context.Context, sc *lang.StackContext, changes []plans.ResourceChange, stackName string) error {
	log := logging.ForStack("deploy", stackName, "")

	seedResources(sc, changes)

	known := make(map[string]bool, len(sc.Resources))
	for id := range sc.Resources {
		known[id] = true
	}

	pending := changes
	for iter := 0; iter < maxIters && len(pending) > 0; iter++ {
		ctx, span := tracer.Start(ctx, "deploy.Pass", trace.WithAttributes(
			attribute.Int("pass", iter),
			attribute.Int("pending", len(pending)),
		))

		var deferred []plans.ResourceChange
		progressed := false

		for _, change := range pending {
			err := d.deployOne(ctx, sc, change, stackName, known)
			if err == nil {
				progressed = true
				continue
			}
			if engineerrors.IsDependencyNotYetSatisfied(err) {
				deferred = append(deferred, change)
				continue
			}
			var notDeployable *engineerrors.NotDeployable
			if isNotDeployable(err, &notDeployable) {
				log.Debug("resource not yet deployable, deferring", "logical_id", change.LogicalID, "reason", notDeployable.Reason)
				deferred = append(deferred, change)
				continue
			}
			span.End()
			return err
		}

		span.End()
		pending = deferred
		if !progressed && len(pending) > 0 {
			return fmt.Errorf("deploy: no progress made this pass, %d resource(s) stuck: %s", len(pending), pendingNames(pending))
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("deploy: exceeded %d passes with %d resource(s) still pending: %s", maxIters, len(pending), pendingNames(pending))
	}
	return nil
}

// seedResources installs every change's target resource into sc.Resources
// up front (Add and Modify with their post-merge definition; Remove keeps
// its Before so dependents can still resolve it until it's actually
// deleted), so the evaluator and dependency scanner see the full picture
// from the first pass.
func seedResources(sc *lang.StackContext, changes []plans.ResourceChange) {
	for _, c := range changes {
		switch c.Action {
		case plans.ActionAdd, plans.ActionModify:
			sc.Resources[c.LogicalID] = c.After
		case plans.ActionRemove:
			if _, ok := sc.Resources[c.LogicalID]; !ok {
				sc.Resources[c.LogicalID] = c.Before
			}
		}
	}
}

func pendingNames(changes []plans.ResourceChange) string {
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.LogicalID
	}
	return strings.Join(names, ", ")
}

func isNotDeployable(err error, target **engineerrors.NotDeployable) bool {
	nd, ok := err.(*engineerrors.NotDeployable)
	if !ok {
		return false
	}
	*target = nd
	return true
}

// deployOne attempts a single resource's change. A nil return means the
// change completed (or was intentionally skipped as permanently
// unreachable, e.g. an unknown resource type); any returned error is either
// a deferral signal (DependencyNotYetSatisfied, NotDeployable) the caller
// retries next pass, or a fatal error that aborts the whole stack.
func (d *Deployer) deployOne(ctx context.Context, sc *lang.StackContext, change plans.ResourceChange, stackName string, known map[string]bool) error {
	logicalID := change.LogicalID
	log := logging.ForStack("deploy", stackName, "").With("logical_id", logicalID)

	if change.Action == plans.ActionRemove {
		return d.deployRemove(ctx, sc, change, stackName, known, log)
	}

	res := sc.Resources[logicalID]
	evaluator := lang.New(sc)

	if res.Condition != "" {
		ok, err := evaluator.EvaluateCondition(ctx, res.Condition)
		if err != nil {
			return err
		}
		if !ok {
			res.ResourceStatus = completeStatusFor(change.Action)
			res.ResourceStatusReason = "condition evaluated false; resource not created"
			return nil
		}
	}

	for _, dep := range discoverDependencies(res, known) {
		depRes, ok := sc.Resources[dep]
		if !ok || !isResourceComplete(depRes.ResourceStatus) {
			return engineerrors.NewDependencyNotYetSatisfied(logicalID, fmt.Sprintf("waiting on %s", dep))
		}
	}

	provider, ok := sc.Registry.Lookup(res.Type)
	if !ok {
		suggestion := sc.Registry.Suggest(res.Type)
		log.Warn("unknown resource type, skipping resource", "type", res.Type, "suggestion", suggestion)
		res.ResourceStatus = failedStatusFor(change.Action)
		res.ResourceStatusReason = (&engineerrors.UnknownResourceType{Type: res.Type, Suggestion: suggestion}).Error()
		return nil
	}

	if change.Action == plans.ActionAdd {
		provider.AddDefaults(ctx, res, stackName)

		if err := provider.FetchState(ctx, stackName, res); err != nil {
			if engineerrors.IsDependencyNotYetSatisfied(err) {
				return err
			}
			return &engineerrors.ServiceFailure{LogicalID: logicalID, Action: string(plans.ActionFor(change.Action)), Cause: err}
		}
		if provider.PhysicalID(res) != "" {
			log.Debug("resource already deployed out of band, skipping create")
			res.ResourceStatus = completeStatusFor(change.Action)
			res.ResourceStatusReason = ""
			return nil
		}
	}

	resolved, err := evaluator.Evaluate(ctx, res.Properties)
	if err != nil {
		if engineerrors.IsDependencyNotYetSatisfied(err) {
			return err
		}
		return &engineerrors.ServiceFailure{LogicalID: logicalID, Action: string(plans.ActionFor(change.Action)), Cause: err}
	}
	resolvedProps, ok := resolved.(map[string]any)
	if !ok {
		return &engineerrors.ServiceFailure{LogicalID: logicalID, Action: string(plans.ActionFor(change.Action)), Cause: fmt.Errorf("resolved properties were %T, not an object", resolved)}
	}
	res.Properties = resolvedProps

	action := plans.ActionFor(change.Action)
	descriptors := provider.DeployTemplates()[action]
	if len(descriptors) == 0 {
		if action == providers.ActionUpdate && !provider.IsUpdatable() {
			return &engineerrors.NotDeployable{LogicalID: logicalID, Reason: "resource type does not support in-place updates"}
		}
		res.ResourceStatus = completeStatusFor(change.Action)
		return nil
	}

	res.ResourceStatus = inProgressStatusFor(change.Action)
	for _, desc := range descriptors {
		if _, err := d.Invoker.Invoke(ctx, action, desc, logicalID, res.Type, stackName, sc.Resources); err != nil {
			if engineerrors.IsDependencyNotYetSatisfied(err) {
				return err
			}
			res.ResourceStatus = failedStatusFor(change.Action)
			res.ResourceStatusReason = err.Error()
			return err
		}
	}

	res.PhysicalResourceID = provider.PhysicalID(res)
	res.ResourceStatus = completeStatusFor(change.Action)
	res.ResourceStatusReason = ""
	return nil
}

func (d *Deployer) deployRemove(ctx context.Context, sc *lang.StackContext, change plans.ResourceChange, stackName string, known map[string]bool, log interface {
	Debug(msg string, args ...any)
}) error {
	logicalID := change.LogicalID
	res := sc.Resources[logicalID]
	if res == nil {
		return nil
	}

	if dependent := firstBlockingDependent(sc, logicalID, known); dependent != "" {
		return engineerrors.NewDependencyNotYetSatisfied(logicalID, fmt.Sprintf("%s still depends on it", dependent))
	}

	provider, ok := sc.Registry.Lookup(res.Type)
	if !ok {
		delete(sc.Resources, logicalID)
		return nil
	}

	res.ResourceStatus = template.StatusDeleteInProgress
	descriptors := provider.DeployTemplates()[providers.ActionDelete]
	for _, desc := range descriptors {
		if _, err := d.Invoker.Invoke(ctx, providers.ActionDelete, desc, logicalID, res.Type, stackName, sc.Resources); err != nil {
			if engineerrors.IsDependencyNotYetSatisfied(err) {
				return err
			}
			res.ResourceStatus = template.StatusDeleteFailed
			res.ResourceStatusReason = err.Error()
			return err
		}
	}

	res.ResourceStatus = template.StatusDeleteComplete
	delete(sc.Resources, logicalID)
	return nil
}

// firstBlockingDependent returns the logical id of a resource still present
// in sc.Resources (and not itself already deleted) that depends on
// logicalID, or "" if none remains. Removal must wait for dependents to be
// removed first, the reverse of creation order.
func firstBlockingDependent(sc *lang.StackContext, logicalID string, known map[string]bool) string {
	for id, res := range sc.Resources {
		if id == logicalID {
			continue
		}
		if res.ResourceStatus == template.StatusDeleteComplete {
			continue
		}
		for _, dep := range discoverDependencies(res, known) {
			if dep == logicalID {
				return id
			}
		}
	}
	return ""
}

func isResourceComplete(status string) bool {
	return status == template.StatusCreateComplete || status == template.StatusUpdateComplete
}

func completeStatusFor(a plans.ChangeAction) string {
	if a == plans.ActionAdd {
		return template.StatusCreateComplete
	}
	return template.StatusUpdateComplete
}

func inProgressStatusFor(a plans.ChangeAction) string {
	if a == plans.ActionAdd {
		return template.StatusCreateInProgress
	}
	return template.StatusUpdateInProgress
}

func failedStatusFor(a plans.ChangeAction) string {
	if a == plans.ActionAdd {
		return template.StatusCreateFailed
	}
	return template.StatusUpdateFailed
}
