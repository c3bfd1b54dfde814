// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package invoke

import "regexp"

// placeholderAccountID is the account id templates are authored against
// when they don't know (or care) which account they'll ultimately deploy
// into; call parameters containing it are rewritten to the stack's actual
// configured account id before dispatch (spec.md §4.4 step 2).
const placeholderAccountID = "000000000000"

var arnPattern = regexp.MustCompile(`arn:aws[a-zA-Z-]*:[a-zA-Z0-9-]*:[a-zA-Z0-9-]*:` + placeholderAccountID + `:`)

// rewriteARNAccountIDs deep-walks params and replaces the placeholder
// account id embedded in any ARN-shaped string with accountID. Parameters
// that aren't strings, or strings that don't contain an ARN, pass through
// unchanged.
func rewriteARNAccountIDs(params map[string]any, accountID string) map[string]any {
	if accountID == "" || accountID == placeholderAccountID {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = rewriteARNValue(v, accountID)
	}
	return out
}

func rewriteARNValue(v any, accountID string) any {
	switch t := v.(type) {
	case string:
		return arnPattern.ReplaceAllStringFunc(t, func(match string) string {
			return match[:len(match)-len(placeholderAccountID)-1] + accountID + ":"
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = rewriteARNValue(inner, accountID)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = rewriteARNValue(inner, accountID)
		}
		return out
	default:
		return v
	}
}
