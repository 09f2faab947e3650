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

// Package strategy implements the registry's pluggable implementation
// selection policies. A strategy takes a candidate set and returns exactly
// one, or fails with errors.NoCandidateError — it never mutates its input
// and never talks to anything outside the slice it is handed.
package strategy

import (
	"sort"

	"github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry/version"
)

// Candidate is the minimal view of a registration a strategy needs to rank
// it. Implemented by registry.Registration; kept as an interface here so
// this package never imports the registry package (the registry imports
// this one, to pick a strategy by name).
type Candidate interface {
	EngineTag() string
	VersionTag() string
	PriorityTag() int
	DeprecatedTag() bool
}

// Strategy selects exactly one candidate from a non-empty slice.
type Strategy interface {
	// Name identifies the strategy for error messages and CLI output.
	Name() string
	// Select returns one candidate, or a *errors.NoCandidateError if none
	// qualifies (an empty input always qualifies as "none").
	Select(candidates []Candidate) (Candidate, error)
}

// Default excludes deprecated candidates unless every candidate is
// deprecated, then ranks by priority desc, then version desc, then
// non-deprecated first. Ties are broken by original (insertion) order,
// i.e. the stable sort below never reorders equal elements.
type Default struct{}

func (Default) Name() string { return "default" }

func (Default) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return nil, noCandidate("default")
	}
	ranked := excludeDeprecated(candidates)
	if len(ranked) == 0 {
		ranked = append([]Candidate(nil), candidates...)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.PriorityTag() != b.PriorityTag() {
			return a.PriorityTag() > b.PriorityTag()
		}
		if cmp := version.Compare(a.VersionTag(), b.VersionTag()); cmp != 0 {
			return cmp > 0
		}
		if a.DeprecatedTag() != b.DeprecatedTag() {
			return !a.DeprecatedTag()
		}
		return false
	})
	return ranked[0], nil
}

// Latest ranks by semver version desc; deprecated candidates are excluded
// unless every candidate is deprecated.
type Latest struct{}

func (Latest) Name() string { return "latest" }

func (Latest) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return nil, noCandidate("latest")
	}
	active := excludeDeprecated(candidates)
	if len(active) == 0 {
		active = append([]Candidate(nil), candidates...)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return version.Compare(active[i].VersionTag(), active[j].VersionTag()) > 0
	})
	return active[0], nil
}

// Stable excludes pre-release version tags (a "-" suffix, e.g. "2.0.0-rc1"),
// then falls back to the Default rule among what remains.
type Stable struct{}

func (Stable) Name() string { return "stable" }

func (Stable) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return nil, noCandidate("stable")
	}
	var stable []Candidate
	for _, c := range candidates {
		if !isPrerelease(c.VersionTag()) {
			stable = append(stable, c)
		}
	}
	if len(stable) == 0 {
		stable = candidates
	}
	return Default{}.Select(stable)
}

// Priority ranks strictly by priority desc, ignoring version entirely.
type Priority struct{}

func (Priority) Name() string { return "priority" }

func (Priority) Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return nil, noCandidate("priority")
	}
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityTag() > ranked[j].PriorityTag()
	})
	return ranked[0], nil
}

// EngineOverride picks the candidate whose engine tag equals Engine.
type EngineOverride struct {
	Engine string
}

func (EngineOverride) Name() string { return "engine_override" }

func (s EngineOverride) Select(candidates []Candidate) (Candidate, error) {
	for _, c := range candidates {
		if c.EngineTag() == s.Engine {
			return c, nil
		}
	}
	return nil, noCandidate("engine_override")
}

// Resolve looks up a built-in strategy by name. engineTag is only consulted
// for "engine_override" and may be empty for the others.
func Resolve(name, engineTag string) (Strategy, error) {
	switch name {
	case "", "default":
		return Default{}, nil
	case "latest":
		return Latest{}, nil
	case "stable":
		return Stable{}, nil
	case "priority":
		return Priority{}, nil
	case "engine_override":
		if engineTag == "" {
			return nil, &errors.ValidationError{
				Field:   "engine",
				Message: "engine_override strategy requires an engine tag",
			}
		}
		return EngineOverride{Engine: engineTag}, nil
	default:
		return nil, &errors.ValidationError{
			Field:      "strategy",
			Message:    "unknown selection strategy: " + name,
			Suggestion: "use one of: default, latest, stable, priority, engine_override",
		}
	}
}

func excludeDeprecated(candidates []Candidate) []Candidate {
	var active []Candidate
	for _, c := range candidates {
		if !c.DeprecatedTag() {
			active = append(active, c)
		}
	}
	return active
}

func isPrerelease(v string) bool {
	for _, ch := range v {
		if ch == '-' {
			return true
		}
	}
	return false
}

func noCandidate(strategy string) error {
	return &errors.NoCandidateError{Strategy: strategy}
}
