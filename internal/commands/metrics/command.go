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

// Package metrics implements the metrics command: report the last run's
// per-step durations, cache behavior and lineage.
package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/commands/shared"
	"github.com/stepflow/orchestrator/internal/output"
	"github.com/stepflow/orchestrator/internal/workspace"
	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// NewCommand creates the metrics command
func NewCommand() *cobra.Command {
	var (
		configPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print last-run metrics",
		Long: `Print the metrics recorded by the most recent run in this project:
per-step duration, cache hits, signatures, and lineage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}

			result, err := workspace.ReadLastRun(env.Paths)
			if err != nil {
				return shared.NewExecutionError("no run metrics found; run a pipeline first", err)
			}

			// The config flag checks that the last run was of that pipeline;
			// the report itself is not filtered.
			if configPath != "" {
				pipeline, err := env.LoadPipeline(configPath)
				if err != nil {
					return err
				}
				if pipeline.Config.Name != "" && result.Pipeline != pipeline.Config.Name {
					return shared.NewExecutionError(
						fmt.Sprintf("last run was pipeline %q, not %q", result.Pipeline, pipeline.Config.Name), nil)
				}
			}

			switch format {
			case "json":
				return output.EmitJSON(result)
			case "markdown":
				cmd.Print(renderMarkdown(result))
				return nil
			default:
				return shared.NewConfigError(fmt.Sprintf("unknown metrics format %q (want json or markdown)", format), nil)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Pipeline configuration file")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or markdown")

	return cmd
}

func renderMarkdown(result *engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", result.RunID)
	fmt.Fprintf(&b, "- pipeline: %s\n", result.Pipeline)
	fmt.Fprintf(&b, "- status: %s\n", result.Status)
	fmt.Fprintf(&b, "- duration: %s\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- cache hit rate: %.0f%% (%d/%d)\n\n",
		result.Cache.CacheHitRate*100, result.Cache.CacheHits, result.Cache.NodeTotal)

	b.WriteString("| step | status | duration | cached | signature |\n")
	b.WriteString("|------|--------|----------|--------|----------|\n")
	for _, rec := range result.Records {
		fmt.Fprintf(&b, "| %s | %s | %s | %v | `%s` |\n",
			rec.Step, rec.Status, rec.Duration.Round(time.Millisecond), rec.Cached, rec.Signature)
	}
	return b.String()
}
