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

package run

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/stepflow/orchestrator/internal/commands/shared"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
)

// filterSteps applies --only / --exclude glob patterns to the parsed step
// list. A filtered-out upstream does not invalidate the configuration —
// its consumers either cache-hit from persisted datasets or skip with
// missing_upstream at run time.
func filterSteps(cfg *config.PipelineConfig, only, exclude []string) (*config.PipelineConfig, error) {
	keep := make([]config.StepSpec, 0, len(cfg.Steps))
	for _, step := range cfg.Steps {
		if len(only) > 0 && !matchesAny(only, step.Name) {
			continue
		}
		if matchesAny(exclude, step.Name) {
			continue
		}
		keep = append(keep, step)
	}
	if len(keep) == 0 {
		return nil, shared.NewConfigError("step filters matched no steps", nil)
	}

	filtered := *cfg
	filtered.Steps = pruneDanglingDeps(keep)
	return &filtered, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// pruneDanglingDeps drops depends_on entries that point at filtered-out
// steps so graph construction does not reject the narrowed pipeline.
func pruneDanglingDeps(steps []config.StepSpec) []config.StepSpec {
	present := make(map[string]bool, len(steps))
	for _, s := range steps {
		present[s.Name] = true
	}
	for i := range steps {
		var deps []string
		for _, d := range steps[i].DependsOn {
			if present[d] {
				deps = append(deps, d)
			}
		}
		steps[i].DependsOn = deps
	}
	return steps
}
