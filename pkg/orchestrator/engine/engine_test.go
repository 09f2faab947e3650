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

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
	"github.com/stepflow/orchestrator/pkg/orchestrator/hooks"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
)

func buildFlow(t *testing.T, reg *registry.Registry, orch config.Orchestration, steps []config.StepSpec, opts ...flowctx.Option) *flowctx.Flow {
	t.Helper()
	svc := config.New(reg)
	g, err := svc.BuildGraph(steps)
	require.NoError(t, err)
	plan, err := svc.ComputeExecutionPlan(g)
	require.NoError(t, err)
	nodes, err := svc.BuildNodes(steps)
	require.NoError(t, err)
	cfg := &config.PipelineConfig{Name: "test", Orchestration: orch, Steps: steps}
	return flowctx.New(cfg, nodes, g, plan, opts...)
}

func linearSteps() []config.StepSpec {
	return []config.StepSpec{
		{
			Name: "A", Component: "X", Engine: "mem", Methods: []string{"load"},
			Parameters: map[string]any{"path": "in.csv"},
			Outputs:    []config.OutputSpec{{Name: "raw"}},
		},
		{
			Name: "B", Component: "Y", Engine: "auto", Methods: []string{"clean"},
			Parameters: map[string]any{"df": "steps.A.outputs.parameters.raw"},
			Outputs:    []config.OutputSpec{{Name: "cleaned"}},
		},
	}
}

func linearRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "load", Engine: "mem", Version: "1.0.0", Priority: 1,
		Callable: func(args map[string]any) (any, error) {
			if args["path"] == "in.csv" {
				return 42, nil
			}
			return 7, nil
		},
	}))
	double := func(args map[string]any) (any, error) {
		return args["df"].(int) * 2, nil
	}
	require.NoError(t, reg.Register(registry.Registration{
		Component: "Y", Method: "clean", Engine: "v1", Version: "1.0.0", Priority: 1, Callable: double,
	}))
	require.NoError(t, reg.Register(registry.Registration{
		Component: "Y", Method: "clean", Engine: "v2", Version: "2.0.0", Priority: 10, Callable: double,
	}))
	return reg
}

// Linear chain: A feeds B; the higher-priority engine wins for B; a
// re-run against the warm catalog serves both steps from cache with
// unchanged signatures.
func TestLinearChainWithCachedRerun(t *testing.T) {
	reg := linearRegistry(t)
	flow := buildFlow(t, reg, config.Orchestration{}, linearSteps())

	require.Equal(t, 2, flow.Plan.Depth())
	assert.Equal(t, []string{"A"}, flow.Plan.Layers[0].Nodes)
	assert.Equal(t, []string{"B"}, flow.Plan.Layers[1].Nodes)

	eng := New(Options{Registry: reg})
	result, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)

	raw, ok := flow.Catalog.Get("A__raw")
	require.True(t, ok)
	assert.Equal(t, 42, raw)
	cleaned, ok := flow.Catalog.Get("B__cleaned")
	require.True(t, ok)
	assert.Equal(t, 84, cleaned)

	for _, rec := range result.Records {
		assert.False(t, rec.Cached, "first run must not cache-hit: %s", rec.Step)
	}
	firstSigs := flow.Signatures()

	// Second run over the same flow state: everything cache-hits.
	flow2 := buildFlow(t, reg, config.Orchestration{}, linearSteps(),
		flowctx.WithCatalog(flow.Catalog), flowctx.WithSignatures(firstSigs))
	result2, err := eng.Run(context.Background(), flow2)
	require.NoError(t, err)
	for _, rec := range result2.Records {
		assert.True(t, rec.Cached, "second run must cache-hit: %s", rec.Step)
	}
	assert.Equal(t, firstSigs, flow2.Signatures(), "signatures must be stable across runs")
}

// Diamond: B and C depend on A, D on both; the plan has three layers and
// a concurrent runner completes all four nodes.
func TestDiamondLayersAndConcurrentRun(t *testing.T) {
	reg := registry.New()
	for _, step := range []string{"a", "b", "c", "d"} {
		step := step
		require.NoError(t, reg.Register(registry.Registration{
			Component: "X", Method: step, Engine: "mem", Version: "1.0.0",
			Callable: func(args map[string]any) (any, error) { return step, nil },
		}))
	}

	steps := []config.StepSpec{
		{Name: "A", Component: "X", Engine: "mem", Methods: []string{"a"}, Outputs: []config.OutputSpec{{Name: "out"}}},
		{Name: "B", Component: "X", Engine: "mem", Methods: []string{"b"},
			Parameters: map[string]any{"in": "steps.A.outputs.parameters.out"},
			Outputs:    []config.OutputSpec{{Name: "out"}}},
		{Name: "C", Component: "X", Engine: "mem", Methods: []string{"c"},
			Parameters: map[string]any{"in": "steps.A.outputs.parameters.out"},
			Outputs:    []config.OutputSpec{{Name: "out"}}},
		{Name: "D", Component: "X", Engine: "mem", Methods: []string{"d"},
			DependsOn: []string{"B", "C"},
			Outputs:   []config.OutputSpec{{Name: "out"}}},
	}

	flow := buildFlow(t, reg, config.Orchestration{TaskRunner: "concurrent", MaxWorkers: 2}, steps)
	require.Equal(t, 3, flow.Plan.Depth())
	assert.Equal(t, []string{"A"}, flow.Plan.Layers[0].Nodes)
	assert.Equal(t, []string{"B", "C"}, flow.Plan.Layers[1].Nodes)
	assert.Equal(t, []string{"D"}, flow.Plan.Layers[2].Nodes)
	assert.Equal(t, 2, flow.Plan.MaxParallelism())

	eng := New(Options{Registry: reg})
	result, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)
	for _, rec := range result.Records {
		assert.Equal(t, catalog.StatusSuccess, rec.Status, rec.Step)
	}
}

// Changing a literal parameter invalidates the step and, through the
// upstream signature, its consumers.
func TestCacheInvalidationByParameterChange(t *testing.T) {
	reg := linearRegistry(t)
	flow := buildFlow(t, reg, config.Orchestration{}, linearSteps())
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	changed := linearSteps()
	changed[0].Parameters = map[string]any{"path": "other.csv"}
	flow2 := buildFlow(t, reg, config.Orchestration{}, changed,
		flowctx.WithCatalog(flow.Catalog), flowctx.WithSignatures(flow.Signatures()))

	result, err := eng.Run(context.Background(), flow2)
	require.NoError(t, err)
	for _, rec := range result.Records {
		assert.False(t, rec.Cached, "parameter change must invalidate %s", rec.Step)
	}
	raw, _ := flow2.Catalog.Get("A__raw")
	assert.Equal(t, 7, raw)
}

// Registering a higher-priority implementation changes the predicted
// signature of the consuming step only: it re-runs while its upstream
// stays cached.
func TestCacheInvalidationByPriorityChange(t *testing.T) {
	reg := linearRegistry(t)
	flow := buildFlow(t, reg, config.Orchestration{}, linearSteps())
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	require.NoError(t, reg.Register(registry.Registration{
		Component: "Y", Method: "clean", Engine: "v3", Version: "3.0.0", Priority: 20,
		Callable: func(args map[string]any) (any, error) {
			return args["df"].(int) + 1, nil
		},
	}))

	flow2 := buildFlow(t, reg, config.Orchestration{}, linearSteps(),
		flowctx.WithCatalog(flow.Catalog), flowctx.WithSignatures(flow.Signatures()))
	result, err := eng.Run(context.Background(), flow2)
	require.NoError(t, err)

	byStep := make(map[string]catalog.Record)
	for _, rec := range result.Records {
		byStep[rec.Step] = rec
	}
	assert.True(t, byStep["A"].Cached, "A's prediction is unchanged")
	assert.False(t, byStep["B"].Cached, "B's predicted implementation changed")

	cleaned, _ := flow2.Catalog.Get("B__cleaned")
	assert.Equal(t, 43, cleaned)
}

// A cyclic configuration is rejected at graph build time with a concrete
// cycle path.
func TestCyclicConfigurationRejected(t *testing.T) {
	steps := []config.StepSpec{
		{Name: "A", Component: "X", Engine: "mem", Methods: []string{"a"}, DependsOn: []string{"B"}},
		{Name: "B", Component: "X", Engine: "mem", Methods: []string{"b"}, DependsOn: []string{"A"}},
	}
	svc := config.New(registry.New())
	_, err := svc.BuildGraph(steps)
	require.Error(t, err)

	var cyclic *pkgerrors.CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.GreaterOrEqual(t, len(cyclic.Cycle), 3)
	assert.Equal(t, cyclic.Cycle[0], cyclic.Cycle[len(cyclic.Cycle)-1], "reported cycle closes on itself")
}

type memSnapshots struct {
	snaps map[string]FailureSnapshot
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snaps: make(map[string]FailureSnapshot)}
}

func (m *memSnapshots) Write(snap FailureSnapshot) error {
	m.snaps[snap.StepName] = snap
	return nil
}

func (m *memSnapshots) Read(step string) (FailureSnapshot, error) {
	snap, ok := m.snaps[step]
	if !ok {
		return FailureSnapshot{}, errors.New("no snapshot")
	}
	return snap, nil
}

func (m *memSnapshots) List() ([]string, error) {
	var out []string
	for step := range m.snaps {
		out = append(out, step)
	}
	return out, nil
}

func (m *memSnapshots) Remove(step string) error {
	delete(m.snaps, step)
	return nil
}

// Soft failure: the failing node is recorded as failed, its descendants
// skip with missing_upstream, siblings and the flow itself proceed, and a
// snapshot is written for the failed node only.
func TestSoftFailureSkipsDescendants(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "a", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return 1, nil },
	}))
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "b", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return nil, errors.New("value error") },
	}))
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "c", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return 3, nil },
	}))

	steps := []config.StepSpec{
		{Name: "A", Component: "X", Engine: "mem", Methods: []string{"a"}, Outputs: []config.OutputSpec{{Name: "out"}}},
		{Name: "B", Component: "X", Engine: "mem", Methods: []string{"b"},
			Parameters: map[string]any{"in": "steps.A.outputs.parameters.out"},
			Outputs:    []config.OutputSpec{{Name: "out"}}},
		{Name: "C", Component: "X", Engine: "mem", Methods: []string{"c"},
			Parameters: map[string]any{"in": "steps.B.outputs.parameters.out"},
			Outputs:    []config.OutputSpec{{Name: "out"}}},
	}

	snaps := newMemSnapshots()
	bus := hooks.NewBus(nil)
	var failures, afterFlow int
	bus.On(hooks.EventFailure, func(ctx context.Context, event string, data hooks.Payload) error {
		failures++
		assert.Equal(t, "B", data["step"])
		return nil
	})
	bus.On(hooks.EventAfterFlow, func(ctx context.Context, event string, data hooks.Payload) error {
		afterFlow++
		return nil
	})

	flow := buildFlow(t, reg, config.Orchestration{SoftFail: true}, steps)
	eng := New(Options{Registry: reg, Hooks: bus, Snapshots: snaps})
	result, err := eng.Run(context.Background(), flow)
	require.NoError(t, err, "soft_fail keeps the flow alive")
	assert.Equal(t, "success", result.Status)

	byStep := make(map[string]catalog.Record)
	for _, rec := range result.Records {
		byStep[rec.Step] = rec
	}
	assert.Equal(t, catalog.StatusSuccess, byStep["A"].Status)
	assert.Equal(t, catalog.StatusFailed, byStep["B"].Status)
	assert.True(t, byStep["B"].SoftFailed)
	assert.Equal(t, catalog.StatusSkipped, byStep["C"].Status)
	assert.Equal(t, "missing_upstream", byStep["C"].SkipReason)

	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, afterFlow)
	names, _ := snaps.List()
	assert.Equal(t, []string{"B"}, names, "snapshot written for B only")
	assert.False(t, flow.Catalog.Has("B__out"), "failed node must not publish outputs")
}

// Without soft_fail, the first failure terminates the flow; earlier
// outputs stay in the catalog for inspection.
func TestHardFailureStopsFlow(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "a", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return 1, nil },
	}))
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "b", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return nil, errors.New("boom") },
	}))

	steps := []config.StepSpec{
		{Name: "A", Component: "X", Engine: "mem", Methods: []string{"a"}, Outputs: []config.OutputSpec{{Name: "out"}}},
		{Name: "B", Component: "X", Engine: "mem", Methods: []string{"b"},
			Parameters: map[string]any{"in": "steps.A.outputs.parameters.out"}},
	}

	flow := buildFlow(t, reg, config.Orchestration{}, steps)
	eng := New(Options{Registry: reg})
	result, err := eng.Run(context.Background(), flow)
	require.Error(t, err)

	var nodeErr *pkgerrors.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "B", nodeErr.Step)
	assert.Equal(t, "failed", result.Status)
	assert.True(t, flow.Catalog.Has("A__out"), "prior outputs remain for inspection")
}

// Retries re-run the node body without changing its signature.
func TestRetriesDoNotChangeSignature(t *testing.T) {
	attempts := 0
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "flaky", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	}))

	steps := []config.StepSpec{
		{Name: "F", Component: "X", Engine: "mem", Methods: []string{"flaky"}, Outputs: []config.OutputSpec{{Name: "out"}}},
	}
	flow := buildFlow(t, reg, config.Orchestration{RetryCount: 2}, steps)
	eng := New(Options{Registry: reg})
	result, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, catalog.StatusSuccess, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 3, attempts)
}

// A corrupted cache entry (signature present, output missing) triggers
// invalidate-and-re-execute rather than a bogus hit.
func TestCacheIntegrityViolationReexecutes(t *testing.T) {
	reg := linearRegistry(t)
	flow := buildFlow(t, reg, config.Orchestration{}, linearSteps())
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	// Corrupt the cache: drop A's output but keep its signature.
	flow.Catalog.Delete("A__raw")

	flow2 := buildFlow(t, reg, config.Orchestration{}, linearSteps(),
		flowctx.WithCatalog(flow.Catalog), flowctx.WithSignatures(flow.Signatures()))
	result, err := eng.Run(context.Background(), flow2)
	require.NoError(t, err)

	byStep := make(map[string]catalog.Record)
	for _, rec := range result.Records {
		byStep[rec.Step] = rec
	}
	assert.False(t, byStep["A"].Cached, "integrity violation forces re-execution")
	assert.True(t, byStep["B"].Cached, "B's upstream signature did not change")
	raw, ok := flow2.Catalog.Get("A__raw")
	require.True(t, ok)
	assert.Equal(t, 42, raw)
}

// A method chain threads each method's result into the next via the
// reserved "input" argument; the chain value is the last method's return.
func TestMethodChainThreadsResults(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "load", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) { return 10, nil },
	}))
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "double", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) {
			return args["input"].(int) * 2, nil
		},
	}))

	steps := []config.StepSpec{
		{Name: "chain", Component: "X", Engine: "mem", Methods: []string{"load", "double"},
			Outputs: []config.OutputSpec{{Name: "out"}}},
	}
	flow := buildFlow(t, reg, config.Orchestration{}, steps)
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	out, ok := flow.Catalog.Get("chain__out")
	require.True(t, ok)
	assert.Equal(t, 20, out)
}

// Resume drops signatures for snapshotted steps and their descendants so
// only they re-execute.
func TestResumeInvalidatesFailedAndDescendants(t *testing.T) {
	reg := linearRegistry(t)
	flow := buildFlow(t, reg, config.Orchestration{}, linearSteps())
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	snaps := newMemSnapshots()
	require.NoError(t, snaps.Write(FailureSnapshot{StepName: "A"}))

	flow2 := buildFlow(t, reg, config.Orchestration{}, linearSteps(),
		flowctx.WithCatalog(flow.Catalog), flowctx.WithSignatures(flow.Signatures()))
	rerun, err := Resume(flow2, snaps)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, rerun)

	result, err := eng.Run(context.Background(), flow2)
	require.NoError(t, err)
	for _, rec := range result.Records {
		assert.False(t, rec.Cached, "resumed step %s must re-execute", rec.Step)
	}
}

// Multiple declared outputs require the method to return a mapping keyed
// by the declared names.
func TestMultipleOutputsRequireMapping(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{
		Component: "X", Method: "split", Engine: "mem", Version: "1.0.0",
		Callable: func(args map[string]any) (any, error) {
			return map[string]any{"left": 1, "right": 2}, nil
		},
	}))

	steps := []config.StepSpec{
		{Name: "S", Component: "X", Engine: "mem", Methods: []string{"split"},
			Outputs: []config.OutputSpec{{Name: "left"}, {Name: "right"}}},
	}
	flow := buildFlow(t, reg, config.Orchestration{}, steps)
	eng := New(Options{Registry: reg})
	_, err := eng.Run(context.Background(), flow)
	require.NoError(t, err)

	left, _ := flow.Catalog.Get("S__left")
	right, _ := flow.Catalog.Get("S__right")
	assert.Equal(t, 1, left)
	assert.Equal(t, 2, right)
}

func TestSignatureDeterminism(t *testing.T) {
	reg := linearRegistry(t)

	flowA := buildFlow(t, reg, config.Orchestration{}, linearSteps())
	flowB := buildFlow(t, reg, config.Orchestration{}, linearSteps())

	decA := CachePlan(flowA)
	decB := CachePlan(flowB)
	require.Len(t, decA, 2)
	for i := range decA {
		assert.Equal(t, decA[i].Signature, decB[i].Signature,
			"identical configuration must produce identical signatures")
	}

	changed := linearSteps()
	changed[0].Parameters = map[string]any{"path": "other.csv"}
	flowC := buildFlow(t, reg, config.Orchestration{}, changed)
	decC := CachePlan(flowC)
	assert.NotEqual(t, decA[0].Signature, decC[0].Signature, "literal param change must alter A's signature")
	assert.NotEqual(t, decA[1].Signature, decC[1].Signature, "upstream change must propagate to B")
}
