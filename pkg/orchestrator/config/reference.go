// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// refPattern matches the canonical reference syntax:
// steps.<step_name>.outputs.parameters.<output_name>.
var refPattern = regexp.MustCompile(`^steps\.([^.]+)\.outputs\.parameters\.([^.]+)$`)

// Reference is a resolved parameter reference to an upstream step's output.
type Reference struct {
	Raw    string
	Step   string
	Output string
}

// Digest returns a short, stable identifier for this reference, used for
// lineage and debug display rather than as part of any cache key.
func (r Reference) Digest() string {
	sum := md5.Sum([]byte(r.Raw))
	return hex.EncodeToString(sum[:])[:16]
}

// parseReference recognizes the plain string form of a reference. Tagged
// object references ({__ref__: "..."}) are unwrapped by extractRefs before
// reaching here.
func parseReference(raw string) (Reference, bool) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Reference{}, false
	}
	return Reference{Raw: raw, Step: m[1], Output: m[2]}, true
}

// extractRefs walks a parameter value (scalar, list, or map — as produced
// by YAML unmarshalling into any) and collects every reference found,
// including the {__ref__: "..."} tagged object form.
func extractRefs(val any) []Reference {
	var out []Reference
	walkValue(val, &out)
	return out
}

// ResolveValue substitutes every reference inside a parameter value using
// lookup, returning the rewritten value. The second return is false when
// any reference could not be resolved — the engine turns that into a
// missing_upstream skip.
func ResolveValue(val any, lookup func(step, output string) (any, bool)) (any, bool) {
	switch v := val.(type) {
	case string:
		if ref, ok := parseReference(v); ok {
			return lookup(ref.Step, ref.Output)
		}
		return v, true
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rv, ok := ResolveValue(item, lookup)
			if !ok {
				return nil, false
			}
			out[i] = rv
		}
		return out, true
	case map[string]any:
		if raw, ok := v["__ref__"].(string); ok {
			if ref, ok := parseReference(raw); ok {
				return lookup(ref.Step, ref.Output)
			}
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			rv, ok := ResolveValue(item, lookup)
			if !ok {
				return nil, false
			}
			out[k] = rv
		}
		return out, true
	default:
		return val, true
	}
}

func walkValue(val any, out *[]Reference) {
	switch v := val.(type) {
	case string:
		if ref, ok := parseReference(v); ok {
			*out = append(*out, ref)
		}
	case []any:
		for _, item := range v {
			walkValue(item, out)
		}
	case map[string]any:
		if raw, ok := v["__ref__"].(string); ok {
			if ref, ok := parseReference(raw); ok {
				*out = append(*out, ref)
				return
			}
		}
		for _, item := range v {
			walkValue(item, out)
		}
	}
}
