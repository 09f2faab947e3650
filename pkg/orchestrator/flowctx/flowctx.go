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

// Package flowctx holds the shared state container for one flow run:
// the parsed configuration, compiled nodes, dependency graph, execution
// plan, dataset catalog, lineage, and the runtime status each node moves
// through while the engine executes the plan.
package flowctx

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/graph"
)

// Flow is the state container for one run. The engine is its only writer
// during execution; readers (hooks, the CLI) observe it afterwards.
type Flow struct {
	RunID   string
	Config  *config.PipelineConfig
	Nodes   []config.NodeConfig
	Graph   *graph.Graph
	Plan    *graph.Plan
	Catalog *catalog.Catalog
	Lineage *catalog.Lineage

	mu         sync.RWMutex
	byName     map[string]*config.NodeConfig
	statuses   map[string]string
	signatures map[string]string
}

// Option configures a Flow at construction time.
type Option func(*Flow)

// WithCatalog shares an existing catalog instead of creating a fresh one.
// Reusing a catalog across runs is how in-process re-runs hit the cache.
func WithCatalog(c *catalog.Catalog) Option {
	return func(f *Flow) { f.Catalog = c }
}

// WithSignatures seeds the per-step signature map, typically from a
// persisted signature index, so an unchanged step can cache-hit on the
// first run of a new process.
func WithSignatures(sigs map[string]string) Option {
	return func(f *Flow) {
		for step, sig := range sigs {
			f.signatures[step] = sig
		}
	}
}

// New assembles a Flow from the config service's outputs. A fresh run ID
// is minted per Flow; it tags lineage records, failure snapshots and hook
// payloads so concurrent flows in one process stay distinguishable.
func New(cfg *config.PipelineConfig, nodes []config.NodeConfig, g *graph.Graph, plan *graph.Plan, opts ...Option) *Flow {
	f := &Flow{
		RunID:      uuid.NewString(),
		Config:     cfg,
		Nodes:      nodes,
		Graph:      g,
		Plan:       plan,
		Lineage:    catalog.NewLineage(),
		byName:     make(map[string]*config.NodeConfig, len(nodes)),
		statuses:   make(map[string]string, len(nodes)),
		signatures: make(map[string]string),
	}
	for i := range nodes {
		f.byName[nodes[i].Spec.Name] = &nodes[i]
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Catalog == nil {
		f.Catalog = catalog.New()
	}
	return f
}

// Node returns the compiled node config for one step name.
func (f *Flow) Node(name string) (*config.NodeConfig, bool) {
	n, ok := f.byName[name]
	return n, ok
}

// SetStatus records a node's terminal (or in-flight) status.
func (f *Flow) SetStatus(step, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[step] = status
}

// Status returns a node's current status; the empty string means the node
// has not been scheduled yet.
func (f *Flow) Status(step string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.statuses[step]
}

// Statuses returns a copy of the full status map.
func (f *Flow) Statuses() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.statuses))
	for k, v := range f.statuses {
		out[k] = v
	}
	return out
}

// SetSignature records the signature computed for a step this run.
func (f *Flow) SetSignature(step, sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures[step] = sig
}

// Signature returns the signature recorded for a step, from this run or
// seeded from a persisted index.
func (f *Flow) Signature(step string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sig, ok := f.signatures[step]
	return sig, ok
}

// DropSignature forgets a step's recorded signature, forcing its next
// cache check to miss.
func (f *Flow) DropSignature(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.signatures, step)
}

// Signatures returns a copy of the step -> signature map.
func (f *Flow) Signatures() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.signatures))
	for k, v := range f.signatures {
		out[k] = v
	}
	return out
}

// Snapshot clones the Flow's mutable run state (statuses and signatures are
// copied, the catalog is shared by reference, and the clone starts with an
// empty lineage) with a new RunID, leaving the original untouched.
func (f *Flow) Snapshot() *Flow {
	f.mu.RLock()
	defer f.mu.RUnlock()
	clone := &Flow{
		RunID:      uuid.NewString(),
		Config:     f.Config,
		Nodes:      f.Nodes,
		Graph:      f.Graph,
		Plan:       f.Plan,
		Catalog:    f.Catalog,
		Lineage:    catalog.NewLineage(),
		byName:     f.byName,
		statuses:   make(map[string]string, len(f.statuses)),
		signatures: make(map[string]string, len(f.signatures)),
	}
	for k, v := range f.statuses {
		clone.statuses[k] = v
	}
	for k, v := range f.signatures {
		clone.signatures[k] = v
	}
	return clone
}

// Reset clears per-run state (statuses and lineage) while keeping the
// catalog and signature map warm, so the next run can cache-hit.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = make(map[string]string, len(f.byName))
	f.Lineage.Reset()
	f.RunID = uuid.NewString()
}
