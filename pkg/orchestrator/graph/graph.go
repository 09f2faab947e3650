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

// Package graph implements the dependency graph: DAG construction from
// node configuration, cycle detection, topological sort, layered
// execution planning and critical-path analysis.
package graph

import (
	"fmt"
	"sort"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
)

// DependencyType distinguishes how an edge was derived, for debugging and
// visualization.
type DependencyType int

const (
	// DependencyData edges are inferred from producer/consumer dataset names.
	DependencyData DependencyType = iota
	// DependencyExplicit edges come from a declared depends_on list.
	DependencyExplicit
	// DependencyResource edges model a shared resource constraint.
	DependencyResource
	// DependencyTemporal edges model a time-window ordering constraint.
	DependencyTemporal
)

func (t DependencyType) String() string {
	switch t {
	case DependencyData:
		return "DATA"
	case DependencyExplicit:
		return "EXPLICIT"
	case DependencyResource:
		return "RESOURCE"
	case DependencyTemporal:
		return "TEMPORAL"
	default:
		return "UNKNOWN"
	}
}

// Edge represents a from -> to dependency: To depends on From, so From must
// run first.
type Edge struct {
	From     string
	To       string
	Type     DependencyType
	Metadata map[string]any
}

// NodeConfig is the minimal view of a step's configuration a
// DependencySource needs to extract edges from it.
type NodeConfig struct {
	Inputs    []string
	Outputs   []string
	DependsOn []string
}

// Source extracts dependency edges from one node's configuration. Extra
// dependency kinds (resource pools, temporal windows) plug in by
// implementing this interface.
type Source interface {
	Extract(nodeName string, cfg NodeConfig, all map[string]NodeConfig) []Edge
}

// DataSource infers edges from dataset producer/consumer relationships: if
// node B's input matches node A's output, B depends on A.
type DataSource struct{}

func (DataSource) Extract(nodeName string, cfg NodeConfig, all map[string]NodeConfig) []Edge {
	producer := make(map[string]string)
	for name, other := range all {
		for _, out := range other.Outputs {
			producer[out] = name
		}
	}
	var edges []Edge
	for _, in := range cfg.Inputs {
		if from, ok := producer[in]; ok && from != nodeName {
			edges = append(edges, Edge{
				From: from, To: nodeName, Type: DependencyData,
				Metadata: map[string]any{"dataset": in},
			})
		}
	}
	return edges
}

// ExplicitSource turns depends_on declarations directly into edges.
type ExplicitSource struct{}

func (ExplicitSource) Extract(nodeName string, cfg NodeConfig, _ map[string]NodeConfig) []Edge {
	edges := make([]Edge, 0, len(cfg.DependsOn))
	for _, dep := range cfg.DependsOn {
		edges = append(edges, Edge{
			From: dep, To: nodeName, Type: DependencyExplicit,
			Metadata: map[string]any{"declared_in": "depends_on"},
		})
	}
	return edges
}

// Layer is one batch of nodes with no dependency between them — safe to run
// in parallel.
type Layer struct {
	Index int
	Nodes []string
}

func (l Layer) Len() int { return len(l.Nodes) }

// Plan is a complete layered execution plan plus the graph's critical path.
type Plan struct {
	Layers       []Layer
	TotalNodes   int
	CriticalPath []string
}

// MaxParallelism is the width of the widest layer.
func (p Plan) MaxParallelism() int {
	max := 0
	for _, l := range p.Layers {
		if l.Len() > max {
			max = l.Len()
		}
	}
	return max
}

// Depth is the number of layers.
func (p Plan) Depth() int { return len(p.Layers) }

// Flatten concatenates every layer's nodes into one sequential order.
func (p Plan) Flatten() []string {
	out := make([]string, 0, p.TotalNodes)
	for _, l := range p.Layers {
		out = append(out, l.Nodes...)
	}
	return out
}

// Graph is a directed acyclic graph of step names. It is not safe for
// concurrent use; callers own synchronization.
type Graph struct {
	nodes        map[string]struct{}
	successors   map[string]map[string]struct{}
	predecessors map[string]map[string]struct{}
	edges        map[[2]string]Edge
	sources      []Source
}

// New creates an empty graph with the default (data, explicit) sources.
func New() *Graph {
	return &Graph{
		nodes:        make(map[string]struct{}),
		successors:   make(map[string]map[string]struct{}),
		predecessors: make(map[string]map[string]struct{}),
		edges:        make(map[[2]string]Edge),
		sources:      []Source{DataSource{}, ExplicitSource{}},
	}
}

// AddNode registers a node with no edges, so isolated steps still appear in
// the execution plan.
func (g *Graph) AddNode(name string) {
	g.nodes[name] = struct{}{}
}

// AddEdge inserts a dependency edge, creating its endpoints if needed.
func (g *Graph) AddEdge(e Edge) {
	g.nodes[e.From] = struct{}{}
	g.nodes[e.To] = struct{}{}
	if g.successors[e.From] == nil {
		g.successors[e.From] = make(map[string]struct{})
	}
	g.successors[e.From][e.To] = struct{}{}
	if g.predecessors[e.To] == nil {
		g.predecessors[e.To] = make(map[string]struct{})
	}
	g.predecessors[e.To][e.From] = struct{}{}
	g.edges[[2]string{e.From, e.To}] = e
}

// Predecessors returns the upstream nodes a node directly depends on.
func (g *Graph) Predecessors(node string) []string {
	return setKeys(g.predecessors[node])
}

// Successors returns the downstream nodes that directly depend on a node.
func (g *Graph) Successors(node string) []string {
	return setKeys(g.successors[node])
}

func setKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// Contains reports whether a node exists in the graph.
func (g *Graph) Contains(node string) bool {
	_, ok := g.nodes[node]
	return ok
}

// FindCycle performs a DFS cycle search and returns the first cycle found
// as a node path ending back at its start, or nil if the graph is acyclic.
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	order := setKeys(g.nodes)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, succ := range setKeys(g.successors[node]) {
			if !visited[succ] {
				if cycle := dfs(succ); cycle != nil {
					return cycle
				}
			} else if onStack[succ] {
				start := indexOf(path, succ)
				cycle := append(append([]string(nil), path[start:]...), succ)
				return cycle
			}
		}

		path = path[:len(path)-1]
		onStack[node] = false
		return nil
	}

	for _, n := range order {
		if !visited[n] {
			if cycle := dfs(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// HasCycle reports whether the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	_, err := g.topologicalSort()
	return err != nil
}

// topologicalSort runs Kahn's algorithm; it returns *pkgerrors.CyclicDependencyError
// when not every node can be ordered.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = len(g.predecessors[n])
	}

	var queue []string
	for _, n := range setKeys(g.nodes) {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, succ := range setKeys(g.successors[node]) {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(g.nodes) {
		cycle := g.FindCycle()
		if cycle == nil {
			for n := range g.nodes {
				if !contains(order, n) {
					cycle = append(cycle, n)
				}
			}
		}
		return nil, &pkgerrors.CyclicDependencyError{Cycle: cycle}
	}
	return order, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// BuildPlan groups nodes into parallel-safe layers and computes the
// critical path. Each layer is sorted for deterministic output.
func (g *Graph) BuildPlan() (*Plan, error) {
	if len(g.nodes) == 0 {
		return &Plan{}, nil
	}

	remaining := make(map[string]struct{}, len(g.nodes))
	for n := range g.nodes {
		remaining[n] = struct{}{}
	}
	completed := make(map[string]struct{})

	var layers []Layer
	layerIdx := 0
	for len(remaining) > 0 {
		var current []string
		for n := range remaining {
			ready := true
			for pred := range g.predecessors[n] {
				if _, ok := completed[pred]; !ok {
					ready = false
					break
				}
			}
			if ready {
				current = append(current, n)
			}
		}
		if len(current) == 0 {
			cycle := g.FindCycle()
			if cycle == nil {
				cycle = setKeys(remaining)
			}
			return nil, &pkgerrors.CyclicDependencyError{Cycle: cycle}
		}
		sort.Strings(current)
		layers = append(layers, Layer{Index: layerIdx, Nodes: current})
		for _, n := range current {
			completed[n] = struct{}{}
			delete(remaining, n)
		}
		layerIdx++
	}

	critical, err := g.criticalPath()
	if err != nil {
		return nil, err
	}

	return &Plan{Layers: layers, TotalNodes: len(g.nodes), CriticalPath: critical}, nil
}

// criticalPath finds the longest path through the DAG via a topological
// dynamic program over edge counts.
func (g *Graph) criticalPath() ([]string, error) {
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	dist := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	hasPrev := make(map[string]bool, len(order))

	for node := range g.nodes {
		dist[node] = 0
	}
	for _, node := range order {
		for _, succ := range setKeys(g.successors[node]) {
			if dist[node]+1 > dist[succ] {
				dist[succ] = dist[node] + 1
				prev[succ] = node
				hasPrev[succ] = true
			}
		}
	}

	end := order[0]
	for _, n := range order {
		if dist[n] > dist[end] {
			end = n
		}
	}

	var path []string
	current := end
	for {
		path = append(path, current)
		if !hasPrev[current] {
			break
		}
		current = prev[current]
	}
	reverse(path)
	return path, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Validate checks that every predecessor referenced in the graph is itself
// a known node. In strict mode the first missing dependency is returned as
// an error; otherwise all problems are returned as warning strings.
func (g *Graph) Validate(strict bool) ([]string, error) {
	var warnings []string
	for _, node := range setKeys(g.nodes) {
		for _, pred := range setKeys(g.predecessors[node]) {
			if !g.Contains(pred) {
				if strict {
					return nil, &pkgerrors.MissingDependencyError{Node: node, MissingNodes: []string{pred}}
				}
				warnings = append(warnings, fmt.Sprintf("node %q depends on missing node %q", node, pred))
			}
		}
	}
	return warnings, nil
}

// FromNodeConfigs builds a graph from a full step config map, running every
// source (default: data + explicit) over every node. Edges whose upstream
// node is absent from configs are skipped rather than silently creating a
// dangling node.
func FromNodeConfigs(configs map[string]NodeConfig, sources []Source) *Graph {
	g := New()
	if sources != nil {
		g.sources = sources
	}
	for name := range configs {
		g.AddNode(name)
	}
	for name, cfg := range configs {
		for _, src := range g.sources {
			for _, edge := range src.Extract(name, cfg, configs) {
				if _, ok := configs[edge.From]; ok {
					g.AddEdge(edge)
				}
			}
		}
	}
	return g
}

// Edges returns every edge currently in the graph, in no particular order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// Nodes returns every node name, sorted.
func (g *Graph) Nodes() []string {
	return setKeys(g.nodes)
}
