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
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/orchestrator/graph"
	"github.com/stepflow/orchestrator/pkg/orchestrator/handle"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
)

// DatasetName builds the catalog key for one step's declared output:
// "stepName__outputName".
func DatasetName(step, output string) string {
	return step + "__" + output
}

// NodeConfig is the compiled, engine-ready form of a StepSpec: one
// MethodHandle per method in the chain, plus the resolved reference and
// output-dataset lists the engine needs without re-parsing parameters.
type NodeConfig struct {
	Spec       StepSpec
	Handles    []*handle.Handle
	InputRefs  []Reference
	OutputSets []string // dataset names this node produces
	DependsOn  []string
}

// Service parses a pipeline configuration document into a validated
// dependency graph and an ordered list of NodeConfigs.
type Service struct {
	reg *registry.Registry
}

// New creates a ConfigService bound to the registry used to build
// MethodHandles for each step.
func New(reg *registry.Registry) *Service {
	return &Service{reg: reg}
}

// Load reads and parses a YAML pipeline configuration file, normalizes its
// step specs, and auto-completes any outputs a downstream step references
// but the producer never declared.
func (s *Service) Load(path string) (*PipelineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &pkgerrors.ConfigError{Key: path, Reason: "could not read configuration file", Cause: err}
	}

	var doc rawDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &pkgerrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
	}
	return s.parseDocument(doc)
}

func (s *Service) parseDocument(doc rawDocument) (*PipelineConfig, error) {
	if len(doc.Pipeline.Steps) == 0 {
		return nil, &pkgerrors.ConfigError{Key: "pipeline.steps", Reason: "must be a non-empty list of step specs"}
	}
	doc.Pipeline.Orchestration.applyDefaults()

	referenced := s.scanReferencedOutputs(doc.Pipeline.Steps)

	steps := make([]StepSpec, 0, len(doc.Pipeline.Steps))
	seen := make(map[string]bool, len(doc.Pipeline.Steps))
	for idx, raw := range doc.Pipeline.Steps {
		name := raw.Name
		if name == "" {
			name = fmt.Sprintf("step_%d", idx)
		}
		if seen[name] {
			return nil, &pkgerrors.ConfigError{Key: fmt.Sprintf("pipeline.steps[%d].name", idx), Reason: "duplicate step name: " + name}
		}
		seen[name] = true

		if raw.Component == "" {
			return nil, &pkgerrors.ConfigError{Key: fmt.Sprintf("pipeline.steps[%d].component", idx), Reason: "component is required"}
		}
		if len(raw.Method) == 0 {
			return nil, &pkgerrors.ConfigError{Key: fmt.Sprintf("pipeline.steps[%d].method", idx), Reason: "at least one method is required"}
		}

		engine := raw.Engine
		if engine == "" {
			engine = "auto"
		}

		outputs := append([]OutputSpec(nil), raw.Outputs.Parameters...)
		if wanted, ok := referenced[name]; ok {
			names := make([]string, 0, len(wanted))
			for n := range wanted {
				if !hasOutput(outputs, n) {
					names = append(names, n)
				}
			}
			sort.Strings(names)
			for _, n := range names {
				outputs = append(outputs, OutputSpec{Name: n})
			}
		}

		steps = append(steps, StepSpec{
			Name:       name,
			Component:  raw.Component,
			Engine:     engine,
			Methods:    []string(raw.Method),
			Parameters: raw.Parameters,
			Outputs:    outputs,
			DependsOn:  []string(raw.DependsOn),
		})
	}

	if err := s.validateReferences(steps); err != nil {
		return nil, err
	}

	return &PipelineConfig{
		Name:          doc.Pipeline.Name,
		Orchestration: doc.Pipeline.Orchestration,
		Steps:         steps,
	}, nil
}

// scanReferencedOutputs pre-scans every step's parameters for references
// and groups the referenced output names by the step they target, so a
// referenced output the step does not declare can be auto-added.
func (s *Service) scanReferencedOutputs(raw []rawStep) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, step := range raw {
		for _, val := range step.Parameters {
			for _, ref := range extractRefs(val) {
				if out[ref.Step] == nil {
					out[ref.Step] = make(map[string]bool)
				}
				out[ref.Step][ref.Output] = true
			}
		}
	}
	return out
}

// validateReferences ensures every reference targets a declared step and,
// after auto-completion, a declared output of that step; and every
// depends_on entry names a declared step.
func (s *Service) validateReferences(steps []StepSpec) error {
	byName := make(map[string]StepSpec, len(steps))
	for _, st := range steps {
		byName[st.Name] = st
	}

	for _, st := range steps {
		for _, val := range st.Parameters {
			for _, ref := range extractRefs(val) {
				upstream, ok := byName[ref.Step]
				if !ok {
					return &pkgerrors.UnknownReferenceError{Step: st.Name, Reference: ref.Raw}
				}
				if !hasOutput(upstream.Outputs, ref.Output) {
					return &pkgerrors.UnknownReferenceError{Step: st.Name, Reference: ref.Raw}
				}
			}
		}
		for _, dep := range st.DependsOn {
			if _, ok := byName[dep]; !ok {
				return &pkgerrors.UnknownReferenceError{Step: st.Name, Reference: dep}
			}
		}
	}
	return nil
}

func hasOutput(outputs []OutputSpec, name string) bool {
	for _, o := range outputs {
		if o.Name == name {
			return true
		}
	}
	return false
}

// BuildGraph constructs the dependency graph from parsed step specs, using
// the data- and explicit-dependency sources over each step's dataset
// inputs/outputs and depends_on list.
func (s *Service) BuildGraph(steps []StepSpec) (*graph.Graph, error) {
	configs := make(map[string]graph.NodeConfig, len(steps))
	for _, st := range steps {
		var inputs []string
		for _, val := range st.Parameters {
			for _, ref := range extractRefs(val) {
				inputs = append(inputs, DatasetName(ref.Step, ref.Output))
			}
		}
		var outputs []string
		for _, o := range st.Outputs {
			outputs = append(outputs, DatasetName(st.Name, o.Name))
		}
		configs[st.Name] = graph.NodeConfig{
			Inputs:    inputs,
			Outputs:   outputs,
			DependsOn: st.DependsOn,
		}
	}

	g := graph.FromNodeConfigs(configs, nil)
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &pkgerrors.CyclicDependencyError{Cycle: cycle}
	}
	return g, nil
}

// BuildNodes compiles each StepSpec into a NodeConfig with one MethodHandle
// per method in its chain: prefer=auto when engine=="auto", otherwise the
// handle is pinned to the declared engine tag.
func (s *Service) BuildNodes(steps []StepSpec) ([]NodeConfig, error) {
	nodes := make([]NodeConfig, 0, len(steps))
	for _, st := range steps {
		handles := make([]*handle.Handle, 0, len(st.Methods))
		for _, method := range st.Methods {
			var opt handle.Option
			if st.Engine == "auto" {
				opt = handle.WithPrefer(handle.PreferAuto)
			} else {
				opt = handle.WithFixedEngine(st.Engine)
			}
			h, err := handle.New(s.reg, st.Component, method, opt)
			if err != nil {
				return nil, err
			}
			handles = append(handles, h)
		}

		var refs []Reference
		for _, val := range st.Parameters {
			refs = append(refs, extractRefs(val)...)
		}

		var outputSets []string
		for _, o := range st.Outputs {
			outputSets = append(outputSets, DatasetName(st.Name, o.Name))
		}

		nodes = append(nodes, NodeConfig{
			Spec:       st,
			Handles:    handles,
			InputRefs:  refs,
			OutputSets: outputSets,
			DependsOn:  st.DependsOn,
		})
	}
	return nodes, nil
}

// ComputeExecutionPlan layers the graph's nodes for parallel execution and
// computes the critical path.
func (s *Service) ComputeExecutionPlan(g *graph.Graph) (*graph.Plan, error) {
	return g.BuildPlan()
}
