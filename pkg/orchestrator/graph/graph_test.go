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

package graph

import "testing"

func TestFromNodeConfigsDataDependency(t *testing.T) {
	configs := map[string]NodeConfig{
		"extract": {Outputs: []string{"raw"}},
		"clean":   {Inputs: []string{"raw"}, Outputs: []string{"clean"}},
		"model":   {Inputs: []string{"clean"}},
	}
	g := FromNodeConfigs(configs, nil)

	if got := g.Predecessors("clean"); len(got) != 1 || got[0] != "extract" {
		t.Errorf("expected clean to depend on extract, got %v", got)
	}
	if got := g.Predecessors("model"); len(got) != 1 || got[0] != "clean" {
		t.Errorf("expected model to depend on clean, got %v", got)
	}
}

func TestExplicitDependency(t *testing.T) {
	configs := map[string]NodeConfig{
		"a": {},
		"b": {DependsOn: []string{"a"}},
	}
	g := FromNodeConfigs(configs, nil)
	if got := g.Predecessors("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected b to depend on a, got %v", got)
	}
}

func TestFindCycle(t *testing.T) {
	g := New()
	g.AddEdge(Edge{From: "a", To: "b", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "b", To: "c", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "c", To: "a", Type: DependencyExplicit})

	cycle := g.FindCycle()
	if cycle == nil {
		t.Fatal("expected a cycle to be found")
	}
	if !g.HasCycle() {
		t.Error("expected HasCycle to report true")
	}
}

func TestBuildPlanLayersAndCriticalPath(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddEdge(Edge{From: "a", To: "b", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "a", To: "c", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "b", To: "d", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "c", To: "d", Type: DependencyExplicit})

	plan, err := g.BuildPlan()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Depth() != 3 {
		t.Fatalf("expected 3 layers, got %d: %+v", plan.Depth(), plan.Layers)
	}
	if plan.Layers[0].Nodes[0] != "a" {
		t.Errorf("expected layer 0 to be [a], got %v", plan.Layers[0].Nodes)
	}
	if plan.MaxParallelism() != 2 {
		t.Errorf("expected max parallelism 2 (layer 1: b, c), got %d", plan.MaxParallelism())
	}
	if len(plan.CriticalPath) != 3 {
		t.Errorf("expected a 3-node critical path, got %v", plan.CriticalPath)
	}
}

func TestBuildPlanDetectsCycle(t *testing.T) {
	g := New()
	g.AddEdge(Edge{From: "a", To: "b", Type: DependencyExplicit})
	g.AddEdge(Edge{From: "b", To: "a", Type: DependencyExplicit})

	if _, err := g.BuildPlan(); err == nil {
		t.Fatal("expected CyclicDependencyError")
	}
}

func TestValidateStrictReportsMissingDependency(t *testing.T) {
	g := New()
	g.AddNode("b")
	g.predecessors["b"] = map[string]struct{}{"ghost": {}}

	if _, err := g.Validate(true); err == nil {
		t.Fatal("expected MissingDependencyError in strict mode")
	}
	warnings, err := g.Validate(false)
	if err != nil {
		t.Fatalf("unexpected error in non-strict mode: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", warnings)
	}
}

func TestIsolatedNodeAppearsInPlan(t *testing.T) {
	g := New()
	g.AddNode("solo")
	plan, err := g.BuildPlan()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TotalNodes != 1 || plan.Layers[0].Nodes[0] != "solo" {
		t.Errorf("expected solo node in its own layer, got %+v", plan.Layers)
	}
}
