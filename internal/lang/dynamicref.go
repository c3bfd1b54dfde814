// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lang

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stackforge/deployengine/internal/engineerrors"
)

// dynamicReferencePattern matches a "{{resolve:service:key}}" token
// anywhere inside a string (spec.md §4.2). service is one of "ssm",
// "ssm-secure", "secretsmanager"; key is everything up to the closing "}}",
// which for secretsmanager may itself contain further colon-delimited
// segments (secret-id:SecretString:json-key:version-stage:version-id).
var dynamicReferencePattern = regexp.MustCompile(`\{\{resolve:([a-zA-Z0-9_-]+):([^}]+)\}\}`)

// resolveStringValue applies the two string-level rewrites the reference
// engine performs as mutually exclusive alternatives: a string is either an
// API Gateway invoke URL (rewritten to the local emulator) or a candidate
// for {{resolve:...}} dynamic-reference substitution, never both.
func (e *Evaluator) resolveStringValue(ctx context.Context, s string) (string, error) {
	if apiGatewayURLPattern.MatchString(s) {
		return rewriteAPIGatewayURL(s, e.sc.APIGatewayPort), nil
	}
	return e.resolveDynamicReferences(ctx, s)
}

// resolveDynamicReferences replaces every {{resolve:service:key}} token in s
// with the value fetched from the configured DynamicReferenceResolver. A
// string with no such token is returned unchanged. If no resolver is
// configured, tokens are left in place rather than erroring, so templates
// without secret backing still evaluate in tests.
func (e *Evaluator) resolveDynamicReferences(ctx context.Context, s string) (string, error) {
	if !strings.Contains(s, "{{resolve:") {
		return s, nil
	}
	if e.sc.DynamicResolver == nil {
		return s, nil
	}

	var rewriteErr error
	out := dynamicReferencePattern.ReplaceAllStringFunc(s, func(match string) string {
		if rewriteErr != nil {
			return match
		}
		groups := dynamicReferencePattern.FindStringSubmatch(match)
		service, key := groups[1], groups[2]

		resolved, err := e.resolveDynamicKey(ctx, service, key)
		if err != nil {
			rewriteErr = err
			return match
		}
		return resolved
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}
	return out, nil
}

// resolveDynamicKey dispatches on service. ssm and ssm-secure references
// carry a bare parameter name (optionally ":version") as key. secretsmanager
// references carry secret-id, and optionally
// ":SecretString:json-key:version-stage:version-id" — the resolver is asked
// only for the secret id; when a json-key is present the engine decodes the
// fetched secret as JSON and extracts that key itself. Version stages and
// version ids are ignored.
func (e *Evaluator) resolveDynamicKey(ctx context.Context, service, key string) (string, error) {
	switch service {
	case "ssm", "ssm-secure":
		name := key
		if idx := strings.LastIndex(key, ":"); idx != -1 {
			name = key[:idx]
		}
		return e.sc.DynamicResolver.Resolve(ctx, service, name)
	case "secretsmanager":
		parts := strings.Split(key, ":")
		secretID := parts[0]
		jsonKey := ""
		if len(parts) >= 3 && parts[1] == "SecretString" {
			jsonKey = parts[2]
		}

		secret, err := e.sc.DynamicResolver.Resolve(ctx, service, secretID)
		if err != nil {
			return "", err
		}
		if jsonKey == "" {
			return secret, nil
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(secret), &fields); err != nil {
			return "", fmt.Errorf("lang: secret %q is not a JSON object: %w", secretID, err)
		}
		v, ok := fields[jsonKey]
		if !ok {
			return "", engineerrors.NewDependencyNotYetSatisfied(secretID, fmt.Sprintf("json key %q not yet present in secret", jsonKey))
		}
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("lang: unsupported dynamic reference service %q", service)
	}
}
