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

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/observability"
	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
	"github.com/stepflow/orchestrator/pkg/orchestrator/handle"
	"github.com/stepflow/orchestrator/pkg/orchestrator/hooks"
)

// executeNode runs one node's lifecycle: upstream check, input resolution,
// signature computation, cache check, chained execution with retries, and
// output capture. It returns the lineage record and, when the node failed
// or was cancelled, the underlying error.
func (e *Engine) executeNode(ctx context.Context, flow *flowctx.Flow, node *config.NodeConfig) (rec catalog.Record, err error) {
	name := node.Spec.Name
	start := time.Now()
	rec = catalog.Record{
		Step:    name,
		Inputs:  inputDatasets(node),
		Outputs: node.OutputSets,
	}
	if len(node.OutputSets) > 0 {
		rec.PrimaryOutput = node.OutputSets[0]
	}
	defer func() { rec.Duration = time.Since(start) }()

	if ctx.Err() != nil {
		rec.Status = catalog.StatusCancelled
		return rec, &pkgerrors.CancellationError{Scope: "node", Step: name}
	}

	// A failed, skipped or cancelled predecessor means this node's inputs
	// can never materialize; the layer discipline guarantees every
	// predecessor has reached a terminal status by now.
	for _, pred := range flow.Graph.Predecessors(name) {
		switch flow.Status(pred) {
		case catalog.StatusFailed, catalog.StatusSkipped, catalog.StatusCancelled:
			rec.Status = catalog.StatusSkipped
			rec.SkipReason = "missing_upstream"
			return rec, nil
		}
	}

	args, ok := resolveParams(flow, node)
	if !ok {
		rec.Status = catalog.StatusSkipped
		rec.SkipReason = "missing_upstream"
		return rec, nil
	}

	storedSig, hadSig := flow.Signature(name)
	sig := computeSignature(flow, node)
	rec.Signature = sig
	flow.SetSignature(name, sig)

	var span observability.SpanHandle
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "node."+name, observability.WithAttributes(map[string]any{
			"step":      name,
			"signature": sig,
		}))
		defer span.End()
	}

	e.hooks.Emit(ctx, hooks.EventBeforeNode, hooks.Payload{
		"run_id":    flow.RunID,
		"step":      name,
		"signature": sig,
	})

	if !e.force && hadSig && storedSig == sig && len(node.OutputSets) > 0 {
		if missing := firstMissingOutput(flow, node); missing == "" {
			cacheEvents.WithLabelValues("hit").Inc()
			rec.Status = catalog.StatusCached
			rec.Cached = true
			if span != nil {
				span.SetAttributes(map[string]any{"cache": "hit"})
			}
			e.hooks.Emit(ctx, hooks.EventCacheHit, hooks.Payload{
				"run_id":    flow.RunID,
				"step":      name,
				"signature": sig,
			})
			return rec, nil
		} else {
			// Signature matched but an output is gone: corrupted cache.
			// Invalidate the step's entry and execute — this pass is the
			// one retry the integrity policy allows.
			intErr := &pkgerrors.CacheIntegrityError{Step: name, Missing: missing, Signature: sig}
			e.logger.Warn("cache integrity violation, invalidating and re-executing", "step", name, "missing", missing)
			e.invalidateStep(flow, node)
			cacheEvents.WithLabelValues("integrity").Inc()
			e.hooks.Emit(ctx, hooks.EventCacheMiss, hooks.Payload{
				"run_id": flow.RunID,
				"step":   name,
				"reason": intErr.Error(),
			})
		}
	} else {
		cacheEvents.WithLabelValues("miss").Inc()
		e.hooks.Emit(ctx, hooks.EventCacheMiss, hooks.Payload{
			"run_id":    flow.RunID,
			"step":      name,
			"signature": sig,
		})
	}

	// Re-execution replaces any stale outputs left by a previous run with
	// a different signature; within one run the catalog stays write-once.
	for _, ds := range node.OutputSets {
		flow.Catalog.Delete(ds)
	}

	orch := flow.Config.Orchestration
	attempts := orch.RetryCount + 1
	var result any
	var execErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		rec.Attempts = attempt
		result, execErr = e.runChain(ctx, node, args)
		if execErr == nil || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			e.logger.Warn("node failed, retrying",
				"step", name, "attempt", attempt, "of", attempts, "error", execErr)
			select {
			case <-ctx.Done():
				execErr = ctx.Err()
			case <-time.After(time.Duration(orch.RetryDelay) * time.Second):
				continue
			}
			break
		}
	}

	if execErr != nil {
		if span != nil {
			span.RecordError(execErr)
			span.SetStatus(observability.StatusCodeError, execErr.Error())
		}
		if ctx.Err() != nil {
			rec.Status = catalog.StatusCancelled
			rec.Error = execErr.Error()
			return rec, execErr
		}
		rec.Status = catalog.StatusFailed
		rec.SoftFailed = orch.SoftFail
		rec.Error = execErr.Error()
		return rec, execErr
	}

	if err := e.captureOutputs(flow, node, result); err != nil {
		rec.Status = catalog.StatusFailed
		rec.SoftFailed = orch.SoftFail
		rec.Error = err.Error()
		return rec, err
	}

	if e.signatures != nil {
		if err := e.signatures.Put(name, sig); err != nil {
			e.logger.Warn("could not persist signature", "step", name, "error", err)
		}
	}
	if span != nil {
		span.SetStatus(observability.StatusCodeOK, "")
	}
	rec.Status = catalog.StatusSuccess
	return rec, nil
}

// runChain executes the node's method chain in order. The first method
// receives the node's resolved parameters; each subsequent method receives
// the same parameters plus the previous method's result under the reserved
// "input" key. The chain's value is the last method's return.
func (e *Engine) runChain(ctx context.Context, node *config.NodeConfig, args map[string]any) (any, error) {
	var current any
	for i, h := range node.Handles {
		callArgs := args
		if i > 0 {
			callArgs = make(map[string]any, len(args)+1)
			for k, v := range args {
				callArgs[k] = v
			}
			callArgs["input"] = current
		}

		type outcome struct {
			val any
			err error
		}
		done := make(chan outcome, 1)
		go func(h *handle.Handle, a map[string]any) {
			v, err := h.Execute(ctx, a)
			done <- outcome{v, err}
		}(h, callArgs)

		select {
		case <-ctx.Done():
			if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
				return nil, &pkgerrors.TimeoutError{
					Operation: "step " + node.Spec.Name,
					Duration:  time.Since(deadline),
				}
			}
			return nil, ctx.Err()
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			current = out.val
		}
	}
	return current, nil
}

// captureOutputs stores the chain result under the node's declared output
// datasets. One declared output receives the whole result; several require
// the result to be a map keyed by the declared names.
func (e *Engine) captureOutputs(flow *flowctx.Flow, node *config.NodeConfig, result any) error {
	outputs := node.Spec.Outputs
	switch len(outputs) {
	case 0:
		return nil
	case 1:
		ds := config.DatasetName(node.Spec.Name, outputs[0].Name)
		if err := flow.Catalog.Put(ds, result); err != nil {
			return err
		}
		e.persistDataset(ds, result)
		return nil
	default:
		m, ok := result.(map[string]any)
		if !ok {
			return fmt.Errorf("step %q declares %d outputs but its method returned %T; a mapping keyed by output name is required",
				node.Spec.Name, len(outputs), result)
		}
		for _, out := range outputs {
			v, ok := m[out.Name]
			if !ok {
				return fmt.Errorf("step %q method result is missing declared output %q", node.Spec.Name, out.Name)
			}
			ds := config.DatasetName(node.Spec.Name, out.Name)
			if err := flow.Catalog.Put(ds, v); err != nil {
				return err
			}
			e.persistDataset(ds, v)
		}
		return nil
	}
}

func (e *Engine) persistDataset(name string, value any) {
	if e.datasets == nil {
		return
	}
	if err := e.datasets.Save(name, value); err != nil {
		e.logger.Warn("could not persist dataset", "dataset", name, "error", err)
	}
}

// invalidateStep drops a step's catalog entries and persisted state so the
// next execution starts clean.
func (e *Engine) invalidateStep(flow *flowctx.Flow, node *config.NodeConfig) {
	for _, ds := range node.OutputSets {
		flow.Catalog.Delete(ds)
	}
	if e.signatures != nil {
		_ = e.signatures.Delete(node.Spec.Name)
	}
	if e.datasets != nil {
		_ = e.datasets.Delete(node.OutputSets...)
	}
}

// resolveParams substitutes every reference in the node's parameters with
// the corresponding catalog value. false means an upstream dataset was
// absent and the node must be skipped.
func resolveParams(flow *flowctx.Flow, node *config.NodeConfig) (map[string]any, bool) {
	args := make(map[string]any, len(node.Spec.Parameters))
	for key, val := range node.Spec.Parameters {
		resolved, ok := config.ResolveValue(val, func(step, output string) (any, bool) {
			return flow.Catalog.Get(config.DatasetName(step, output))
		})
		if !ok {
			return nil, false
		}
		args[key] = resolved
	}
	return args, true
}

// firstMissingOutput returns the first declared output dataset absent from
// the catalog, or "" when every one is present.
func firstMissingOutput(flow *flowctx.Flow, node *config.NodeConfig) string {
	for _, ds := range node.OutputSets {
		if !flow.Catalog.Has(ds) {
			return ds
		}
	}
	return ""
}

// inputDatasets lists the upstream dataset names a node reads, deduplicated
// and sorted for stable lineage output.
func inputDatasets(node *config.NodeConfig) []string {
	seen := make(map[string]bool, len(node.InputRefs))
	var out []string
	for _, ref := range node.InputRefs {
		ds := config.DatasetName(ref.Step, ref.Output)
		if !seen[ds] {
			seen[ds] = true
			out = append(out, ds)
		}
	}
	sort.Strings(out)
	return out
}
