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
	"testing"

	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
)

func stepNames(cfg *config.PipelineConfig) []string {
	var out []string
	for _, s := range cfg.Steps {
		out = append(out, s.Name)
	}
	return out
}

func testConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Name: "filter-test",
		Steps: []config.StepSpec{
			{Name: "load_prices", Component: "x", Methods: []string{"m"}},
			{Name: "load_volumes", Component: "x", Methods: []string{"m"}},
			{Name: "report", Component: "x", Methods: []string{"m"}, DependsOn: []string{"load_prices", "load_volumes"}},
		},
	}
}

func TestFilterOnlyWithGlob(t *testing.T) {
	cfg, err := filterSteps(testConfig(), []string{"load_*"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := stepNames(cfg)
	if len(names) != 2 || names[0] != "load_prices" || names[1] != "load_volumes" {
		t.Errorf("expected the two load steps, got %v", names)
	}
}

func TestFilterExclude(t *testing.T) {
	cfg, err := filterSteps(testConfig(), nil, []string{"load_volumes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := stepNames(cfg)
	if len(names) != 2 {
		t.Fatalf("expected 2 steps, got %v", names)
	}

	// report's depends_on entry for the excluded step is pruned so graph
	// construction still succeeds.
	for _, s := range cfg.Steps {
		if s.Name == "report" {
			if len(s.DependsOn) != 1 || s.DependsOn[0] != "load_prices" {
				t.Errorf("expected pruned depends_on [load_prices], got %v", s.DependsOn)
			}
		}
	}
}

func TestFilterMatchingNothingFails(t *testing.T) {
	if _, err := filterSteps(testConfig(), []string{"ghost"}, nil); err == nil {
		t.Fatal("expected an error when filters match no steps")
	}
}

func TestFilterDoesNotMutateOriginal(t *testing.T) {
	original := testConfig()
	_, err := filterSteps(original, nil, []string{"load_volumes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(original.Steps) != 3 {
		t.Error("filtering must not shrink the original step list")
	}
}
