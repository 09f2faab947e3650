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

package flowctx

import (
	"testing"

	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/graph"
)

func minimalFlow(opts ...Option) *Flow {
	cfg := &config.PipelineConfig{Name: "p"}
	steps := []config.StepSpec{{Name: "a"}, {Name: "b"}}
	cfg.Steps = steps
	nodes := []config.NodeConfig{{Spec: steps[0]}, {Spec: steps[1]}}
	g := graph.New()
	g.AddNode("a")
	g.AddNode("b")
	plan, _ := g.BuildPlan()
	return New(cfg, nodes, g, plan, opts...)
}

func TestNodeLookup(t *testing.T) {
	f := minimalFlow()
	n, ok := f.Node("a")
	if !ok || n.Spec.Name != "a" {
		t.Fatalf("expected node a, got %v %v", n, ok)
	}
	if _, ok := f.Node("missing"); ok {
		t.Error("expected lookup miss for unknown node")
	}
}

func TestStatusAndSignatureMaps(t *testing.T) {
	f := minimalFlow()
	f.SetStatus("a", catalog.StatusSuccess)
	if f.Status("a") != catalog.StatusSuccess {
		t.Error("status roundtrip failed")
	}
	if f.Status("b") != "" {
		t.Error("unscheduled node must report empty status")
	}

	f.SetSignature("a", "sig1")
	sig, ok := f.Signature("a")
	if !ok || sig != "sig1" {
		t.Error("signature roundtrip failed")
	}
	f.DropSignature("a")
	if _, ok := f.Signature("a"); ok {
		t.Error("expected signature to be dropped")
	}
}

func TestWithSignaturesSeedsMap(t *testing.T) {
	f := minimalFlow(WithSignatures(map[string]string{"a": "seeded"}))
	sig, ok := f.Signature("a")
	if !ok || sig != "seeded" {
		t.Error("expected seeded signature")
	}
}

func TestSnapshotIsolatesRunState(t *testing.T) {
	f := minimalFlow()
	f.SetStatus("a", catalog.StatusFailed)
	f.SetSignature("a", "sig1")

	clone := f.Snapshot()
	if clone.RunID == f.RunID {
		t.Error("snapshot must mint a new run ID")
	}
	clone.SetStatus("a", catalog.StatusSuccess)
	clone.SetSignature("a", "sig2")

	if f.Status("a") != catalog.StatusFailed {
		t.Error("snapshot writes must not leak into the original")
	}
	if sig, _ := f.Signature("a"); sig != "sig1" {
		t.Error("snapshot signature writes must not leak")
	}
	if clone.Catalog != f.Catalog {
		t.Error("snapshot shares the catalog by design")
	}
}

func TestResetKeepsCacheWarm(t *testing.T) {
	f := minimalFlow()
	f.Catalog.Replace("a__out", 1)
	f.SetSignature("a", "sig1")
	f.SetStatus("a", catalog.StatusSuccess)
	f.Lineage.Add(catalog.Record{Step: "a"})
	oldID := f.RunID

	f.Reset()
	if f.RunID == oldID {
		t.Error("Reset must mint a new run ID")
	}
	if f.Status("a") != "" {
		t.Error("Reset must clear statuses")
	}
	if f.Lineage.Len() != 0 {
		t.Error("Reset must clear lineage")
	}
	if !f.Catalog.Has("a__out") {
		t.Error("Reset must keep the catalog warm")
	}
	if _, ok := f.Signature("a"); !ok {
		t.Error("Reset must keep signatures")
	}
}
