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

// Package run implements the run command: execute a pipeline configuration
// through the layered execution engine, with step filters, cache bypass,
// and resume-from-failure-snapshot support.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/cli/timeline"
	"github.com/stepflow/orchestrator/internal/commands/shared"
	logpkg "github.com/stepflow/orchestrator/internal/log"
	"github.com/stepflow/orchestrator/internal/workspace"
	"github.com/stepflow/orchestrator/pkg/observability"
	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var (
		configPath string
		only       []string
		exclude    []string
		resume     bool
		force      bool
		trace      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline",
		Long: `Execute the pipeline described by a configuration file.

Steps run layer by layer; independent steps within a layer run in
parallel when the configuration selects the concurrent task runner.
Results are cached by content signature — an unchanged step whose
outputs are still available is skipped on re-run.`,
		Example: `  # Run a pipeline
  orchestrator run -c pipeline.yaml

  # Re-run only two steps (upstream steps are not added; their outputs come from the cache)
  orchestrator run -c pipeline.yaml --only load_prices,clean_prices

  # Resume after a failure, re-executing failed steps and their descendants
  orchestrator run -c pipeline.yaml --resume

  # Ignore the cache entirely
  orchestrator run -c pipeline.yaml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, runOptions{
				configPath: configPath,
				only:       only,
				exclude:    exclude,
				resume:     resume,
				force:      force,
				trace:      trace,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Pipeline configuration file (required)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Run only the named steps (glob patterns allowed)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Skip the named steps (glob patterns allowed)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from failure snapshots")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the cache; execute every step")
	cmd.Flags().BoolVar(&trace, "trace", false, "Collect spans for the flow and every node; print a timeline and export via OpenTelemetry")
	cmd.MarkFlagRequired("config")

	return cmd
}

type runOptions struct {
	configPath string
	only       []string
	exclude    []string
	resume     bool
	force      bool
	trace      bool
}

func runPipeline(cmd *cobra.Command, opts runOptions) error {
	env, err := shared.NewEnv()
	if err != nil {
		return err
	}

	pipeline, err := env.LoadPipeline(opts.configPath)
	if err != nil {
		return err
	}

	if len(opts.only) > 0 || len(opts.exclude) > 0 {
		filtered, err := filterSteps(pipeline.Config, opts.only, opts.exclude)
		if err != nil {
			return err
		}
		pipeline, err = env.CompileSteps(filtered)
		if err != nil {
			return err
		}
	}

	// Persistent stores are best-effort: a project without a writable
	// .pipeline tree still runs, it just cannot cache across processes.
	var sigs *workspace.SignatureIndex
	if idx, err := workspace.OpenSignatureIndex(env.Paths); err == nil {
		sigs = idx
		defer sigs.Close()
	} else {
		env.Logger.Warn("signature index unavailable, caching limited to this run", "error", err)
	}
	datasets := workspace.NewDatasetCache(env.Paths)
	snapshots := workspace.NewSnapshotStore(env.Paths)

	flow := env.NewFlow(pipeline, sigs, datasets)

	if opts.resume {
		rerun, err := engine.Resume(flow, snapshots)
		if err != nil {
			return shared.NewExecutionError("loading failure snapshots", err)
		}
		if len(rerun) > 0 {
			env.Logger.Info("resuming", "steps", rerun)
		}
	}

	logpkg.AttachHooks(env.Registry.Hooks(), env.Logger)

	// --trace collects spans in memory for the post-run timeline and
	// mirrors them through the OpenTelemetry exporter.
	var tracer observability.TracerProvider
	var collector *observability.Collector
	if opts.trace {
		provider, err := observability.NewOTelProvider(observability.OTelConfig{
			ServiceName:   "orchestrator",
			TraceWriter:   os.Stderr,
			EnableMetrics: true,
		})
		if err != nil {
			return shared.NewExecutionError("initializing tracing", err)
		}
		collector = observability.NewCollector(provider)
		defer collector.Shutdown(context.Background())
		tracer = collector
	}

	eng := engine.New(engine.Options{
		Registry:   env.Registry,
		Logger:     env.Logger,
		Tracer:     tracer,
		Signatures: wrapNilSignatures(sigs),
		Datasets:   datasets,
		Snapshots:  snapshots,
		Force:      opts.force,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, runErr := eng.Run(ctx, flow)

	if err := workspace.WriteLastRun(env.Paths, result); err != nil {
		env.Logger.Warn("could not persist run metrics", "error", err)
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(result); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		printSummary(cmd, result)
		if collector != nil {
			cmd.Print(timeline.Render(collector.Spans()))
		}
	}

	if runErr != nil {
		return shared.NewExecutionError("pipeline failed", runErr)
	}
	return nil
}

// wrapNilSignatures keeps a typed-nil *SignatureIndex from sneaking into
// the engine's SignatureStore interface field.
func wrapNilSignatures(sigs *workspace.SignatureIndex) engine.SignatureStore {
	if sigs == nil {
		return nil
	}
	return sigs
}
