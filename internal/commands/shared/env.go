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

package shared

import (
	"log/slog"

	logpkg "github.com/stepflow/orchestrator/internal/log"
	"github.com/stepflow/orchestrator/internal/workspace"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
	"github.com/stepflow/orchestrator/pkg/orchestrator/graph"
	"github.com/stepflow/orchestrator/pkg/orchestrator/plugins"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
)

// Env bundles the collaborators every command needs: the process logger,
// the plug-in-populated registry, and the project's workspace paths.
type Env struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Paths    workspace.Paths
}

// NewEnv builds the shared command environment, honoring --verbose/--quiet
// and the project-directory flag.
func NewEnv() (*Env, error) {
	cfg := logpkg.FromEnv()
	if GetVerbose() {
		cfg.Level = "debug"
	}
	if GetQuiet() {
		cfg.Level = "error"
	}
	logger := logpkg.New(cfg)

	reg, err := plugins.Default(logger)
	if err != nil {
		return nil, NewExecutionError("loading plug-ins", err)
	}

	paths, err := workspace.Resolve(GetProjectDir())
	if err != nil {
		return nil, NewConfigError("resolving project directory", err)
	}

	return &Env{Logger: logger, Registry: reg, Paths: paths}, nil
}

// Pipeline is the fully compiled form of one configuration file.
type Pipeline struct {
	Config *config.PipelineConfig
	Graph  *graph.Graph
	Plan   *graph.Plan
	Nodes  []config.NodeConfig
}

// LoadPipeline parses a configuration file and compiles it into a graph,
// an execution plan, and engine-ready nodes. Failures map to the config
// exit code (2).
func (e *Env) LoadPipeline(path string) (*Pipeline, error) {
	svc := config.New(e.Registry)

	cfg, err := svc.Load(path)
	if err != nil {
		return nil, NewConfigError("loading pipeline configuration", err)
	}
	return e.compile(svc, cfg)
}

// CompileSteps rebuilds graph, plan and nodes for an already-parsed (and
// possibly filtered) configuration.
func (e *Env) CompileSteps(cfg *config.PipelineConfig) (*Pipeline, error) {
	return e.compile(config.New(e.Registry), cfg)
}

func (e *Env) compile(svc *config.Service, cfg *config.PipelineConfig) (*Pipeline, error) {
	g, err := svc.BuildGraph(cfg.Steps)
	if err != nil {
		return nil, NewConfigError("building dependency graph", err)
	}
	plan, err := svc.ComputeExecutionPlan(g)
	if err != nil {
		return nil, NewConfigError("computing execution plan", err)
	}
	nodes, err := svc.BuildNodes(cfg.Steps)
	if err != nil {
		return nil, NewConfigError("compiling step nodes", err)
	}
	return &Pipeline{Config: cfg, Graph: g, Plan: plan, Nodes: nodes}, nil
}

// NewFlow assembles a flow context for a compiled pipeline, warmed from
// the project's persisted signature index and dataset cache when they are
// available.
func (e *Env) NewFlow(p *Pipeline, sigs *workspace.SignatureIndex, datasets *workspace.DatasetCache) *flowctx.Flow {
	var opts []flowctx.Option
	if sigs != nil {
		if all, err := sigs.All(); err == nil {
			opts = append(opts, flowctx.WithSignatures(all))
		}
	}
	flow := flowctx.New(p.Config, p.Nodes, p.Graph, p.Plan, opts...)
	if datasets != nil {
		if values, err := datasets.LoadAll(); err == nil {
			for name, value := range values {
				flow.Catalog.Replace(name, value)
			}
		}
	}
	return flow
}
