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

// Package cache implements the cache command group: inspect which steps
// the cache would serve (plan), populate the cache by executing the
// pipeline (warm), and drop cached state (clear).
package cache

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/commands/shared"
	"github.com/stepflow/orchestrator/internal/workspace"
	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// NewCommand creates the cache command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the step cache",
	}
	cmd.AddCommand(newPlanCommand())
	cmd.AddCommand(newWarmCommand())
	cmd.AddCommand(newClearCommand())
	return cmd
}

func newPlanCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which steps the next run would serve from cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}
			pipeline, err := env.LoadPipeline(configPath)
			if err != nil {
				return err
			}

			sigs, err := workspace.OpenSignatureIndex(env.Paths)
			if err != nil {
				return shared.NewExecutionError("opening signature index", err)
			}
			defer sigs.Close()

			flow := env.NewFlow(pipeline, sigs, workspace.NewDatasetCache(env.Paths))
			decisions := engine.CachePlan(flow)

			if shared.GetJSON() {
				return shared.EmitJSON(decisions)
			}
			for _, d := range decisions {
				verdict := "run"
				if d.Hit {
					verdict = "cached"
				}
				cmd.Printf("  %-24s %-7s %s\n", d.Step, verdict, d.Signature)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Pipeline configuration file (required)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newWarmCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Execute the pipeline to populate the cache",
		Long: `Execute the pipeline with persistence enabled so later runs can
cache-hit. Steps whose cached state is already valid are not re-executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}
			pipeline, err := env.LoadPipeline(configPath)
			if err != nil {
				return err
			}

			sigs, err := workspace.OpenSignatureIndex(env.Paths)
			if err != nil {
				return shared.NewExecutionError("opening signature index", err)
			}
			defer sigs.Close()
			datasets := workspace.NewDatasetCache(env.Paths)

			flow := env.NewFlow(pipeline, sigs, datasets)
			eng := engine.New(engine.Options{
				Registry:   env.Registry,
				Logger:     env.Logger,
				Signatures: sigs,
				Datasets:   datasets,
				Snapshots:  workspace.NewSnapshotStore(env.Paths),
			})

			result, runErr := eng.Run(context.Background(), flow)
			if runErr != nil {
				return shared.NewExecutionError("cache warm run failed", runErr)
			}
			if !shared.GetQuiet() {
				cmd.Printf("warmed %d step(s), %d already cached\n",
					result.Cache.CacheMiss, result.Cache.CacheHits)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Pipeline configuration file (required)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newClearCommand() *cobra.Command {
	var steps []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached signatures and datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}

			sigs, err := workspace.OpenSignatureIndex(env.Paths)
			if err != nil {
				return shared.NewExecutionError("opening signature index", err)
			}
			defer sigs.Close()
			datasets := workspace.NewDatasetCache(env.Paths)

			if len(steps) == 0 {
				if err := sigs.Delete(); err != nil {
					return shared.NewExecutionError("clearing signature index", err)
				}
				if err := datasets.Delete(); err != nil {
					return shared.NewExecutionError("clearing dataset cache", err)
				}
				if !shared.GetQuiet() {
					cmd.Println("cache cleared")
				}
				return nil
			}

			if err := sigs.Delete(steps...); err != nil {
				return shared.NewExecutionError("clearing signature index", err)
			}
			// Dataset names are step__output; drop everything the named
			// steps produced.
			all, err := datasets.LoadAll()
			if err == nil {
				var names []string
				for name := range all {
					for _, step := range steps {
						if len(name) > len(step)+2 && name[:len(step)+2] == step+"__" {
							names = append(names, name)
						}
					}
				}
				if len(names) > 0 {
					if err := datasets.Delete(names...); err != nil {
						return shared.NewExecutionError("clearing dataset cache", err)
					}
				}
			}
			if !shared.GetQuiet() {
				cmd.Printf("cleared cache for %d step(s)\n", len(steps))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&steps, "steps", nil, "Clear only the named steps (default: everything)")
	return cmd
}
