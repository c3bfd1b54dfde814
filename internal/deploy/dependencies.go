// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package deploy

import "github.com/stackforge/deployengine/internal/template"

// discoverDependencies returns every logical id res implicitly or
// explicitly depends on: its declared DependsOn list, plus every Ref and
// Fn::GetAtt target found by a textual scan of its as-authored
// OriginalProperties (spec.md §4.6 "implicit dependency discovery"). The
// scan deliberately walks OriginalProperties rather than the live,
// possibly-merged Properties, so a dependency isn't lost if a later Modify
// drops the property that introduced it while keeping the reference
// elsewhere unevaluated. known restricts results to logical ids that are
// actually resources in this stack, filtering out parameter names and
// AWS::* pseudo-parameters that happen to share the Ref syntax.
func discoverDependencies(res *template.Resource, known map[string]bool) []string {
	seen := map[string]bool{}
	for _, dep := range res.DependsOn {
		if known[dep] {
			seen[dep] = true
		}
	}
	scanRefs(res.OriginalProperties, known, seen)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func scanRefs(v any, known map[string]bool, seen map[string]bool) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if id, ok := t["Ref"].(string); ok {
				if known[id] {
					seen[id] = true
				}
			}
			if attArg, ok := t["Fn::GetAtt"]; ok {
				if id := getAttLogicalID(attArg); id != "" && known[id] {
					seen[id] = true
				}
			}
		}
		for _, inner := range t {
			scanRefs(inner, known, seen)
		}
	case []any:
		for _, inner := range t {
			scanRefs(inner, known, seen)
		}
	}
}

func getAttLogicalID(attArg any) string {
	switch v := attArg.(type) {
	case []any:
		if len(v) >= 1 {
			if id, ok := v[0].(string); ok {
				return id
			}
		}
	case string:
		for i := 0; i < len(v); i++ {
			if v[i] == '.' {
				return v[:i]
			}
		}
		return v
	}
	return ""
}
