// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package engineerrors holds the error taxonomy of spec.md §7: which
// failures are expected and recovered internally (DependencyNotYetSatisfied),
// which are user errors (NoStackUpdates), which are swallowed
// (NotFoundDuringDelete), and which are fatal to the whole stack
// (ServiceFailure and anything unrecognized).
package engineerrors

import (
	"errors"
	"fmt"
	"strings"
)

// DependencyNotYetSatisfied indicates that evaluating an intrinsic required
// a resource that has not yet completed deployment. It is expected and is
// fully recovered by the deployment loop's deferral logic.
type DependencyNotYetSatisfied struct {
	LogicalID string
	Reason    string
}

func (e *DependencyNotYetSatisfied) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("dependency not yet satisfied: %s: %s", e.LogicalID, e.Reason)
	}
	return fmt.Sprintf("dependency not yet satisfied: %s", e.LogicalID)
}

// NewDependencyNotYetSatisfied constructs a DependencyNotYetSatisfied error.
func NewDependencyNotYetSatisfied(logicalID, reason string) error {
	return &DependencyNotYetSatisfied{LogicalID: logicalID, Reason: reason}
}

// IsDependencyNotYetSatisfied reports whether err (or one it wraps) is a
// DependencyNotYetSatisfied.
func IsDependencyNotYetSatisfied(err error) bool {
	var target *DependencyNotYetSatisfied
	return errors.As(err, &target)
}

// ErrNoStackUpdates is raised when a change-set diff produced zero changes;
// it is a user error, not an engine fault.
var ErrNoStackUpdates = errors.New("no updates are to be performed")

// NotFoundDuringDelete is recognized by substring match against a backing
// service's failure message during a delete action, and is swallowed
// (treated as successful deletion).
type NotFoundDuringDelete struct {
	Cause error
}

func (e *NotFoundDuringDelete) Error() string {
	return fmt.Sprintf("resource already absent: %v", e.Cause)
}

func (e *NotFoundDuringDelete) Unwrap() error { return e.Cause }

var notFoundSubstrings = []string{
	"NoSuchBucket",
	"ResourceNotFound",
	"NoSuchEntity",
	"NotFoundException",
	"404",
	"not found",
	"not exist",
}

// LooksLikeNotFound reports whether msg contains one of the substrings the
// engine recognizes as "the resource is already gone" during a delete
// action (spec.md §4.4 step 5).
func LooksLikeNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range notFoundSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// ParameterValidationFailure indicates the backing service rejected the call
// parameters; the invoker resolves the parameters again from the resource's
// properties and retries the call exactly once. The validator's report in
// Cause is not used to change the parameters.
type ParameterValidationFailure struct {
	Cause error
}

func (e *ParameterValidationFailure) Error() string {
	return fmt.Sprintf("parameter validation failure: %v", e.Cause)
}

func (e *ParameterValidationFailure) Unwrap() error { return e.Cause }

// UnknownResourceType is logged and the resource is skipped; deployment
// continues for the rest of the stack.
type UnknownResourceType struct {
	Type       string
	Suggestion string
}

func (e *UnknownResourceType) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown resource type %q (did you mean %q?)", e.Type, e.Suggestion)
	}
	return fmt.Sprintf("unknown resource type %q", e.Type)
}

// NotDeployable is logged and the resource's change is dropped for this
// pass; it is not necessarily fatal since a later pass may find it
// deployable once a dependency resolves.
type NotDeployable struct {
	LogicalID string
	Reason    string
}

func (e *NotDeployable) Error() string {
	return fmt.Sprintf("resource %s is not deployable: %s", e.LogicalID, e.Reason)
}

// ServiceFailure wraps any other failure returned by a backing service or
// resource provider. It aborts the whole stack with a *_FAILED status.
type ServiceFailure struct {
	LogicalID string
	Action    string
	Cause     error
}

func (e *ServiceFailure) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Action, e.LogicalID, e.Cause)
}

func (e *ServiceFailure) Unwrap() error { return e.Cause }

// ErrDeployInProgress is returned when a second deployment is requested
// against a stack that already has one running in the background.
var ErrDeployInProgress = errors.New("a deployment is already in progress for this stack")
