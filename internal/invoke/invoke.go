// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package invoke is the action invoker (spec.md §4.4): given a resolved
// resource and the provider Descriptor for the action being performed, it
// resolves call parameters, coerces their types, strips nulls, dispatches
// the call, retries once on a parameter validation failure, and swallows
// not-found errors during delete.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/reflectwalk"
	"go.opentelemetry.io/otel"

	"github.com/stackforge/deployengine/internal/engineerrors"
	"github.com/stackforge/deployengine/internal/logging"
	"github.com/stackforge/deployengine/internal/providers"
	"github.com/stackforge/deployengine/internal/template"
)

var tracer = otel.Tracer("github.com/stackforge/deployengine/internal/invoke")

// Invoker dispatches provider action descriptors against backing services.
type Invoker struct {
	Clients   providers.ServiceClientResolver
	AccountID string
}

// New returns an Invoker that resolves service clients via resolve and
// rewrites ARN account-id placeholders to accountID.
func New(resolve providers.ServiceClientResolver, accountID string) *Invoker {
	return &Invoker{Clients: resolve, AccountID: accountID}
}

// Invoke performs one action call for resourceID in stackName, following
// spec.md §4.4's six steps, and returns whatever the call produced (to be
// handed to the provider's ResultHandler plumbing, already run here).
func (inv *Invoker) Invoke(ctx context.Context, action providers.Action, desc providers.Descriptor, resourceID, resourceType, stackName string, resources map[string]*template.Resource) (any, error) {
	ctx, span := tracer.Start(ctx, "invoke.Invoke")
	defer span.End()
	log := logging.ForStack("invoke", stackName, "").With("logical_id", resourceID, "type", resourceType, "action", string(action))

	res, ok := resources[resourceID]
	if !ok {
		return nil, fmt.Errorf("invoke: unknown resource %q", resourceID)
	}

	if desc.Kind == providers.KindDirect {
		result, err := desc.DirectFunc(ctx, resourceID, resources, resourceType, desc, stackName)
		if err != nil {
			return inv.handleCallError(action, resourceID, resourceType, err, log)
		}
		return inv.runResultHandler(ctx, desc, result, resourceID, resources, resourceType)
	}

	params, err := inv.resolveParameters(ctx, desc, res, stackName, resources, resourceID)
	if err != nil {
		return nil, fmt.Errorf("invoke: resolving parameters for %s: %w", resourceID, err)
	}
	params = rewriteARNAccountIDs(params, inv.AccountID)
	params, err = applyTypeCoercions(params, desc.Types)
	if err != nil {
		return nil, fmt.Errorf("invoke: coercing parameters for %s: %w", resourceID, err)
	}
	params = stripNulls(params)

	client, err := inv.Clients(ctx, resourceType, stackName)
	if err != nil {
		return nil, fmt.Errorf("invoke: resolving service client for %s: %w", resourceType, err)
	}

	result, err := client.Invoke(ctx, desc.ServiceMethod, params)
	if err != nil {
		var validationErr *engineerrors.ParameterValidationFailure
		if errors.As(err, &validationErr) {
			log.Warn("parameter validation failed, retrying once", "error", validationErr.Cause)
			params, rerr := inv.resolveParameters(ctx, desc, res, stackName, resources, resourceID)
			if rerr != nil {
				return nil, fmt.Errorf("invoke: re-resolving parameters for %s after validation failure: %w", resourceID, rerr)
			}
			params = rewriteARNAccountIDs(params, inv.AccountID)
			params, rerr = applyTypeCoercions(params, desc.Types)
			if rerr != nil {
				return nil, fmt.Errorf("invoke: coercing parameters for %s after validation failure: %w", resourceID, rerr)
			}
			params = stripNulls(params)
			result, err = client.Invoke(ctx, desc.ServiceMethod, params)
		}
	}
	if err != nil {
		return inv.handleCallError(action, resourceID, resourceType, err, log)
	}

	return inv.runResultHandler(ctx, desc, result, resourceID, resources, resourceType)
}

func (inv *Invoker) handleCallError(action providers.Action, resourceID, resourceType string, err error, log loggerLike) (any, error) {
	if action == providers.ActionDelete && engineerrors.LooksLikeNotFound(err.Error()) {
		log.Info("resource already absent during delete, treating as success")
		return nil, nil
	}
	return nil, &engineerrors.ServiceFailure{LogicalID: resourceID, Action: string(action), Cause: err}
}

func (inv *Invoker) runResultHandler(ctx context.Context, desc providers.Descriptor, result any, resourceID string, resources map[string]*template.Resource, resourceType string) (any, error) {
	if desc.ResultHandler == nil {
		return result, nil
	}
	if err := desc.ResultHandler(ctx, result, resourceID, resources, resourceType); err != nil {
		return result, fmt.Errorf("invoke: result handler for %s: %w", resourceID, err)
	}
	return result, nil
}

func (inv *Invoker) resolveParameters(ctx context.Context, desc providers.Descriptor, res *template.Resource, stackName string, resources map[string]*template.Resource, resourceID string) (map[string]any, error) {
	if desc.HasParameterFunc() {
		return desc.ParameterFunc(ctx, res.Properties, stackName, resources, resourceID)
	}
	return desc.Parameters.Resolve(res.Properties), nil
}

func applyTypeCoercions(params map[string]any, coercions map[string]providers.TypeCoercion) (map[string]any, error) {
	if len(coercions) == 0 {
		return params, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for field, coerce := range coercions {
		raw, ok := out[field]
		if !ok {
			continue
		}
		coerced, err := coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = coerced
	}
	return out, nil
}

// stripNulls walks params with reflectwalk and deletes any map entry whose
// value is nil (directly or boxed in a nil interface), matching spec.md
// §4.4 step 4: a parameter that resolved to null is omitted from the call
// entirely rather than sent as an explicit null.
func stripNulls(params map[string]any) map[string]any {
	clone := deepCopyParams(params)
	w := &nullStripWalker{}
	if err := reflectwalk.Walk(clone, w); err != nil {
		return clone
	}
	return clone
}

// nullStripWalker implements reflectwalk.MapWalker. MapElem is invoked for
// every key/value pair reflectwalk visits, at every nesting level; deleting
// through the map.Value handed in is safe because reflectwalk has already
// snapshotted the key list before recursing.
type nullStripWalker struct{}

func (w *nullStripWalker) Map(m reflect.Value) error { return nil }

func (w *nullStripWalker) MapElem(m, k, v reflect.Value) error {
	elem := v
	if elem.Kind() == reflect.Interface {
		elem = elem.Elem()
	}
	if !elem.IsValid() {
		m.SetMapIndex(k, reflect.Value{})
	}
	return nil
}

// deepCopyParams makes a per-level deep copy so stripNulls never mutates
// the caller's parameter map in place.
func deepCopyParams(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopyParams(nested)
			continue
		}
		out[k] = v
	}
	return out
}

type loggerLike interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}
