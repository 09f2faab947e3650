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

// Package graph implements the graph command: export a pipeline's
// dependency graph as Mermaid, GraphViz or plain text.
package graph

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/commands/shared"
)

// NewCommand creates the graph command
func NewCommand() *cobra.Command {
	var (
		configPath string
		format     string
		outFile    string
		summary    bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export a pipeline's dependency graph",
		Example: `  orchestrator graph -c pipeline.yaml
  orchestrator graph -c pipeline.yaml --format mermaid -o graph.mmd
  orchestrator graph -c pipeline.yaml --summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}
			pipeline, err := env.LoadPipeline(configPath)
			if err != nil {
				return err
			}

			var rendered string
			switch format {
			case "mermaid":
				rendered = pipeline.Graph.Mermaid()
			case "graphviz":
				rendered = pipeline.Graph.Graphviz()
			case "text":
				rendered = pipeline.Plan.Text()
			default:
				return shared.NewConfigError(fmt.Sprintf("unknown graph format %q (want mermaid, graphviz or text)", format), nil)
			}

			if summary {
				rendered += renderSummary(pipeline)
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(rendered), 0o644); err != nil {
					return shared.NewExecutionError("writing graph output", err)
				}
				if !shared.GetQuiet() {
					cmd.Printf("wrote %s\n", outFile)
				}
				return nil
			}
			cmd.Print(rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Pipeline configuration file (required)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: mermaid, graphviz or text")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Write output to a file instead of stdout")
	cmd.Flags().BoolVar(&summary, "summary", false, "Append node/edge/layer totals")
	cmd.MarkFlagRequired("config")

	return cmd
}

func renderSummary(p *shared.Pipeline) string {
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "nodes: %d\n", p.Graph.Len())
	fmt.Fprintf(&b, "edges: %d\n", len(p.Graph.Edges()))
	fmt.Fprintf(&b, "layers: %d\n", p.Plan.Depth())
	fmt.Fprintf(&b, "max parallelism: %d\n", p.Plan.MaxParallelism())
	if len(p.Plan.CriticalPath) > 0 {
		fmt.Fprintf(&b, "critical path: %s\n", strings.Join(p.Plan.CriticalPath, " -> "))
	}
	return b.String()
}
