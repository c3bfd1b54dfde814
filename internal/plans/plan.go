// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package plans is the change planner (spec.md §4.5): given the stack's
// previously deployed template and the newly submitted one, it computes the
// ordered set of per-resource changes a change set is made of.
package plans

import (
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/copystructure"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

// ChangeAction is one of the three shapes a resource-level change can take.
// It is distinct from providers.Action (Create/Update/Delete): ActionFor
// maps one to the other.
type ChangeAction string

const (
	ActionAdd    ChangeAction = "Add"
	ActionModify ChangeAction = "Modify"
	ActionRemove ChangeAction = "Remove"
)

// ActionFor maps a change-set action to the provider verb that deploys it.
func ActionFor(a ChangeAction) providers.Action {
	switch a {
	case ActionAdd:
		return providers.ActionCreate
	case ActionModify:
		return providers.ActionUpdate
	case ActionRemove:
		return providers.ActionDelete
	default:
		return providers.ActionCreate
	}
}

// ResourceChange is one entry of a change set: a single resource being
// added, modified, or removed, carrying both the previously deployed
// resource (nil for Add) and the new resource definition (nil for Remove).
type ResourceChange struct {
	Action       ChangeAction
	LogicalID    string
	ResourceType string
	Before       *template.Resource
	After        *template.Resource

	// Replacement mirrors the reference engine's coarse replacement
	// signal: true when the resource's Type itself changed, since no
	// provider can update a resource into a different type in place.
	Replacement bool
}

// Diff computes the ordered list of changes needed to move a stack from
// before to after. If filterUnchanged is true (the default for a normal
// deploy), resources whose configuration is byte-for-byte identical are
// omitted; change-set preview callers may want filterUnchanged=false to see
// every resource's disposition. An empty result after filtering is
// engineerrors.ErrNoStackUpdates, matching the reference engine's behavior
// of rejecting a change set with nothing to do.
func Diff(before, after *template.Template, filterUnchanged bool) ([]ResourceChange, error) {
	var changes []ResourceChange

	beforeResources := map[string]*template.Resource{}
	if before != nil {
		beforeResources = before.Resources
	}
	afterResources := map[string]*template.Resource{}
	if after != nil {
		afterResources = after.Resources
	}

	for logicalID, afterRes := range afterResources {
		oldRes, existed := beforeResources[logicalID]
		if !existed {
			changes = append(changes, ResourceChange{
				Action:       ActionAdd,
				LogicalID:    logicalID,
				ResourceType: afterRes.Type,
				After:        afterRes,
			})
			continue
		}
		if !filterUnchanged || resourceConfigDiffers(oldRes, afterRes) {
			changes = append(changes, ResourceChange{
				Action:       ActionModify,
				LogicalID:    logicalID,
				ResourceType: afterRes.Type,
				Before:       oldRes,
				After:        mergeProperties(oldRes, afterRes),
				Replacement:  oldRes.Type != afterRes.Type,
			})
		}
	}

	for logicalID, oldRes := range beforeResources {
		if _, stillPresent := afterResources[logicalID]; stillPresent {
			continue
		}
		changes = append(changes, ResourceChange{
			Action:       ActionRemove,
			LogicalID:    logicalID,
			ResourceType: oldRes.Type,
			Before:       oldRes,
		})
	}

	// Fixed emission order: Remove, then Add, then Modify, sorted by logical
	// id within each action, so a given pair of templates always produces
	// the same change set regardless of Go's randomized map iteration order.
	rank := map[ChangeAction]int{ActionRemove: 0, ActionAdd: 1, ActionModify: 2}
	sort.Slice(changes, func(i, j int) bool {
		if rank[changes[i].Action] != rank[changes[j].Action] {
			return rank[changes[i].Action] < rank[changes[j].Action]
		}
		return changes[i].LogicalID < changes[j].LogicalID
	})

	if filterUnchanged && len(changes) == 0 {
		return nil, engineerrors.ErrNoStackUpdates
	}
	return changes, nil
}

// resourceConfigDiffers reports whether a and b's declared configuration
// differs in a way that warrants a Modify entry: its type, its condition,
// its dependency list, its as-authored properties (OriginalProperties, not
// the live, possibly-merged Properties), or either side's previous status
// containing DELETE — a resource stuck in a failed delete is never filtered
// out as unchanged, so the next change set gets another chance to clear it.
func resourceConfigDiffers(a, b *template.Resource) bool {
	if a.Type != b.Type {
		return true
	}
	if a.Condition != b.Condition {
		return true
	}
	if !reflect.DeepEqual([]string(a.DependsOn), []string(b.DependsOn)) {
		return true
	}
	if strings.Contains(a.ResourceStatus, "DELETE") || strings.Contains(b.ResourceStatus, "DELETE") {
		return true
	}
	return !reflect.DeepEqual(a.OriginalProperties, b.OriginalProperties)
}

// mergeProperties builds the resource the deployment loop will actually
// operate on for a Modify: OriginalProperties is wholesale-replaced with
// the newly submitted definition (so dependency discovery always sees the
// author's latest Ref/GetAtt forms), but Properties accretes — a key the
// new definition omits is retained from the previously deployed resource
// rather than dropped, matching template.Resource's documented merge
// contract.
func mergeProperties(oldRes, newRes *template.Resource) *template.Resource {
	merged := newRes.Clone()
	merged.PhysicalResourceID = oldRes.PhysicalResourceID
	merged.ResourceStatus = oldRes.ResourceStatus
	merged.ResourceStatusReason = oldRes.ResourceStatusReason

	base, err := copystructure.Copy(oldRes.Properties)
	if err != nil {
		base = oldRes.Clone().Properties
	}
	baseProps, _ := base.(map[string]any)
	if baseProps == nil {
		baseProps = map[string]any{}
	}
	for k, v := range newRes.Properties {
		baseProps[k] = v
	}
	merged.Properties = baseProps
	return merged
}
