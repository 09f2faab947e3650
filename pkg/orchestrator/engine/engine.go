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

// Package engine executes a layered plan: per-layer parallel dispatch over
// a bounded worker pool, signature-based caching against the catalog, a
// soft-failure discipline with skip propagation, retries, timeouts, and
// failure snapshots for resume.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/observability"
	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
	"github.com/stepflow/orchestrator/pkg/orchestrator/graph"
	"github.com/stepflow/orchestrator/pkg/orchestrator/hooks"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
)

// Options wires the engine's collaborators. Registry is required; every
// other field is optional and nil-safe.
type Options struct {
	Registry *registry.Registry
	// Hooks receives the flow/node lifecycle events. Defaults to the
	// registry's bus so plug-in handlers see both registry and engine
	// events on one bus.
	Hooks  *hooks.Bus
	Logger *slog.Logger
	// Tracer opens one span per flow and one child span per node.
	Tracer observability.TracerProvider
	// Signatures persists the step -> signature index across processes.
	Signatures SignatureStore
	// Datasets persists catalog values for cross-process cache hits.
	Datasets DatasetStore
	// Snapshots records failure snapshots and backs the resume path.
	Snapshots SnapshotStore
	// Force bypasses the cache check: every node executes.
	Force bool
}

// Engine runs flows. It is stateless between runs; all per-run state lives
// in the flowctx.Flow it is handed.
type Engine struct {
	reg        *registry.Registry
	hooks      *hooks.Bus
	logger     *slog.Logger
	tracer     observability.Tracer
	signatures SignatureStore
	datasets   DatasetStore
	snapshots  SnapshotStore
	force      bool
}

// New constructs an Engine from Options.
func New(opts Options) *Engine {
	e := &Engine{
		reg:        opts.Registry,
		hooks:      opts.Hooks,
		logger:     opts.Logger,
		signatures: opts.Signatures,
		datasets:   opts.Datasets,
		snapshots:  opts.Snapshots,
		force:      opts.Force,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.hooks == nil && opts.Registry != nil {
		e.hooks = opts.Registry.Hooks()
	}
	if e.hooks == nil {
		e.hooks = hooks.NewBus(e.logger)
	}
	if opts.Tracer != nil {
		e.tracer = opts.Tracer.Tracer("orchestrator.engine")
	}
	return e
}

// Run executes the flow's plan layer by layer. Layers run sequentially;
// nodes within a layer run on a worker pool when the configuration asks
// for a concurrent task runner. The returned Result is always populated,
// also on failure; the error is the first fatal node error (nil under
// soft_fail, which degrades node failures to skipped descendants).
func (e *Engine) Run(ctx context.Context, flow *flowctx.Flow) (*Result, error) {
	started := time.Now()
	orch := flow.Config.Orchestration

	if orch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(orch.Timeout)*time.Second)
		defer cancel()
	}

	var span observability.SpanHandle
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "flow.run", observability.WithAttributes(map[string]any{
			"pipeline": flow.Config.Name,
			"run_id":   flow.RunID,
			"layers":   flow.Plan.Depth(),
			"nodes":    flow.Plan.TotalNodes,
		}))
	}

	e.hooks.Emit(ctx, hooks.EventBeforeFlow, hooks.Payload{
		"run_id":     flow.RunID,
		"pipeline":   flow.Config.Name,
		"layers":     flow.Plan.Depth(),
		"nodes":      flow.Plan.TotalNodes,
		"started_at": started,
	})

	var runErr error
	for _, layer := range flow.Plan.Layers {
		if err := e.runLayer(ctx, flow, layer); err != nil {
			runErr = err
			break
		}
	}

	result := assembleResult(flow, started, runErr)
	flowsTotal.WithLabelValues(result.Status).Inc()

	e.hooks.Emit(ctx, hooks.EventAfterFlow, hooks.Payload{
		"run_id":   flow.RunID,
		"pipeline": flow.Config.Name,
		"status":   result.Status,
		"duration": result.FinishedAt.Sub(result.StartedAt),
		"cache":    result.Cache,
	})

	if span != nil {
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(observability.StatusCodeError, runErr.Error())
		} else {
			span.SetStatus(observability.StatusCodeOK, "")
		}
		span.End()
	}
	return result, runErr
}

// runLayer dispatches one layer's nodes. Sequential mode runs them one at
// a time in the layer's (sorted) order; concurrent mode fans out onto an
// errgroup bounded by max_workers. Either way the call returns only after
// every dispatched node has terminated, which is the inter-layer barrier
// the happens-before guarantee rests on.
func (e *Engine) runLayer(ctx context.Context, flow *flowctx.Flow, layer graph.Layer) error {
	orch := flow.Config.Orchestration
	if orch.TaskRunner != "concurrent" || orch.MaxWorkers <= 1 || layer.Len() <= 1 {
		for _, name := range layer.Nodes {
			if err := e.runNode(ctx, flow, name); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orch.MaxWorkers)
	for _, name := range layer.Nodes {
		name := name
		g.Go(func() error {
			return e.runNode(gctx, flow, name)
		})
	}
	return g.Wait()
}

// runNode executes one node and records its outcome. The returned error is
// non-nil only for fatal conditions: a node failure with soft_fail off, or
// cancellation.
func (e *Engine) runNode(ctx context.Context, flow *flowctx.Flow, name string) error {
	node, ok := flow.Node(name)
	if !ok {
		return fmt.Errorf("engine: plan references unknown node %q", name)
	}

	rec, execErr := e.executeNode(ctx, flow, node)
	flow.Lineage.Add(rec)
	flow.SetStatus(name, rec.Status)
	nodeDuration.WithLabelValues(rec.Status).Observe(rec.Duration.Seconds())

	e.hooks.Emit(ctx, hooks.EventAfterNode, hooks.Payload{
		"run_id":    flow.RunID,
		"step":      name,
		"status":    rec.Status,
		"cached":    rec.Cached,
		"duration":  rec.Duration,
		"signature": rec.Signature,
	})

	switch rec.Status {
	case catalog.StatusFailed:
		e.writeSnapshot(flow, node, rec, execErr)
		e.hooks.Emit(ctx, hooks.EventFailure, hooks.Payload{
			"run_id":    flow.RunID,
			"step":      name,
			"error":     rec.Error,
			"signature": rec.Signature,
			"soft_fail": flow.Config.Orchestration.SoftFail,
		})
		if !flow.Config.Orchestration.SoftFail {
			return &pkgerrors.NodeExecutionError{Step: name, Signature: rec.Signature, Cause: execErr}
		}
		e.logger.Warn("node failed, continuing (soft_fail)", "step", name, "error", rec.Error)
	case catalog.StatusCancelled:
		return &pkgerrors.CancellationError{Scope: "node", Step: name}
	case catalog.StatusSuccess:
		if e.snapshots != nil {
			_ = e.snapshots.Remove(name)
		}
	}
	return nil
}

func (e *Engine) writeSnapshot(flow *flowctx.Flow, node *config.NodeConfig, rec catalog.Record, execErr error) {
	if e.snapshots == nil {
		return
	}
	snap := FailureSnapshot{
		StepName:        rec.Step,
		RunID:           flow.RunID,
		ErrorType:       fmt.Sprintf("%T", execErr),
		ErrorMessage:    rec.Error,
		Timestamp:       time.Now(),
		Parameters:      node.Spec.Parameters,
		UpstreamOutputs: rec.Inputs,
	}
	if err := e.snapshots.Write(snap); err != nil {
		e.logger.Warn("could not write failure snapshot", "step", rec.Step, "error", err)
	}
}
