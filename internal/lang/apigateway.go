// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lang

import "regexp"

// apiGatewayURLPattern matches the invoke URL CloudFormation's real API
// Gateway emits, e.g. "https://abc123.execute-api.us-east-1.amazonaws.com/stage".
// Resources that embed this URL in a Fn::Sub or plain string value (commonly
// a Lambda environment variable pointing back at its own API) need it
// rewritten to the local emulator's host:port so the deployed stack is
// internally addressable (spec.md §4.2 post-processing step).
var apiGatewayURLPattern = regexp.MustCompile(`https?://([a-z0-9]+)\.execute-api\.([a-z0-9-]+)\.amazonaws\.com(/[^\s"']*)?`)

// rewriteAPIGatewayURL rewrites an API Gateway invoke URL embedded in s to
// point at the local emulator's port, leaving every other string untouched.
// Matching the reference engine's behavior, this case is mutually exclusive
// with dynamic-reference resolution: a string either is a rewritable API
// Gateway URL, or it is considered for {{resolve:...}} substitution, never
// both (see resolveStringValue).
func rewriteAPIGatewayURL(s, port string) string {
	if port == "" {
		return s
	}
	return apiGatewayURLPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := apiGatewayURLPattern.FindStringSubmatch(match)
		restOfPath := ""
		if len(groups) == 4 {
			restOfPath = groups[3]
		}
		return "http://localhost:" + port + restOfPath
	})
}
