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

import (
	"fmt"
	"sort"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart definition, suitable for
// embedding in markdown documentation or a web preview.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "    %s[%s]\n", mermaidID(n), n)
	}
	edges := g.Edges()
	sortEdges(edges)
	for _, e := range edges {
		fmt.Fprintf(&b, "    %s -->|%s| %s\n", mermaidID(e.From), e.Type, mermaidID(e.To))
	}
	return b.String()
}

// Graphviz renders the graph as a DOT digraph.
func (g *Graph) Graphviz() string {
	var b strings.Builder
	b.WriteString("digraph orchestrator {\n    rankdir=LR;\n")
	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "    %q;\n", n)
	}
	edges := g.Edges()
	sortEdges(edges)
	for _, e := range edges {
		fmt.Fprintf(&b, "    %q -> %q [label=%q];\n", e.From, e.To, e.Type.String())
	}
	b.WriteString("}\n")
	return b.String()
}

// Text renders the execution plan as an indented, human-readable layer
// listing, the format the CLI's "graph" command prints by default.
func (p Plan) Text() string {
	var b strings.Builder
	for _, layer := range p.Layers {
		fmt.Fprintf(&b, "layer %d (%d node(s)):\n", layer.Index, layer.Len())
		for _, n := range layer.Nodes {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
	}
	if len(p.CriticalPath) > 0 {
		fmt.Fprintf(&b, "critical path: %s\n", strings.Join(p.CriticalPath, " -> "))
	}
	return b.String()
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}

func mermaidID(name string) string {
	var b strings.Builder
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
