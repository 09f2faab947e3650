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

// Package registry implements the component/method/engine method registry:
// a hierarchical index of callables with pluggable, strategy-driven
// implementation selection.
package registry

import (
	"context"
	"log/slog"
	"sync"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/orchestrator/hooks"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry/strategy"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry/version"
)

// Registry is the process-wide method index. The zero value is not usable;
// construct one with New.
type Registry struct {
	mu      sync.RWMutex
	idx     *index
	loaders []loaderEntry
	policy  ConflictPolicy
	hooks   *hooks.Bus
	logger  *slog.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithConflictPolicy overrides the default ConflictOverwriteNewer policy.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithHookBus shares an existing event bus instead of creating a private one
// — the execution engine and the registry publish onto the same bus.
func WithHookBus(b *hooks.Bus) Option {
	return func(r *Registry) { r.hooks = b }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		idx:    newIndex(),
		policy: ConflictOverwriteNewer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hooks == nil {
		r.hooks = hooks.NewBus(r.logger)
	}
	return r
}

// Hooks exposes the registry's event bus so callers can subscribe to
// after_method_registered / after_registry_refresh, or share it with an
// execution engine.
func (r *Registry) Hooks() *hooks.Bus { return r.hooks }

// Register adds one callable to the index under its (component, method,
// engine) key, applying the registry's conflict policy when that key is
// already occupied.
func (r *Registry) Register(reg Registration) error {
	if reg.Component == "" || reg.Method == "" || reg.Engine == "" {
		return &pkgerrors.ValidationError{
			Field:   "registration",
			Message: "component, method and engine are all required",
		}
	}

	r.mu.Lock()
	existing, exists := r.idx.getEngine(reg.Component, reg.Method, reg.Engine)
	if exists {
		switch r.policy {
		case ConflictReject:
			r.mu.Unlock()
			registrationsTotal.WithLabelValues("rejected").Inc()
			return &pkgerrors.DuplicateRegistrationError{FullKey: reg.FullKey()}
		case ConflictKeepExisting:
			r.mu.Unlock()
			registrationsTotal.WithLabelValues("kept_existing").Inc()
			return nil
		case ConflictOverwriteNewer:
			if !isNewer(reg, existing) {
				r.mu.Unlock()
				registrationsTotal.WithLabelValues("kept_existing").Inc()
				return nil
			}
		}
	}
	r.idx.add(reg)
	r.mu.Unlock()

	outcome := "registered"
	if exists {
		outcome = "overwritten"
	}
	registrationsTotal.WithLabelValues(outcome).Inc()

	r.hooks.Emit(context.Background(), hooks.EventMethodRegistered, hooks.Payload{
		"component": reg.Component,
		"method":    reg.Method,
		"engine":    reg.Engine,
		"version":   reg.Version,
		"outcome":   outcome,
	})
	return nil
}

// isNewer reports whether incoming should replace existing under the
// overwrite-newer policy: higher priority wins outright, otherwise higher
// (semver) version wins.
func isNewer(incoming, existing Registration) bool {
	if incoming.Priority != existing.Priority {
		return incoming.Priority > existing.Priority
	}
	return version.Compare(incoming.Version, existing.Version) > 0
}

// Describe lists every registered implementation of (component, method),
// in insertion order, without exposing the callables themselves.
func (r *Registry) Describe(component, method string) []ImplementationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := r.idx.methodCandidates(component, method)
	out := make([]ImplementationInfo, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.info())
	}
	return out
}

// ListEngines returns just the engine tags registered for (component, method).
func (r *Registry) ListEngines(component, method string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.listEngines(component, method)
}

// ByComponent returns every registration belonging to one component, keyed
// by full key.
func (r *Registry) ByComponent(component string) map[string]Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.byComponentName(component)
}

// Components lists every component name with at least one registration.
func (r *Registry) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.components()
}

// ExecuteOptions directs how Execute picks among candidates. Zero value
// selects via the "default" strategy.
type ExecuteOptions struct {
	// Strategy names a built-in selection strategy: "default", "latest",
	// "stable", "priority", or "engine_override".
	Strategy string
	// Engine is only consulted when Strategy == "engine_override".
	Engine string
}

// Execute selects one implementation of (component, method) via the
// configured strategy and invokes it with args. The reserved directive
// arguments "_strategy" and "_engine_type" override opts and are stripped
// before the callable sees the map.
func (r *Registry) Execute(ctx context.Context, component, method string, args map[string]any, opts ExecuteOptions) (any, error) {
	args, opts = extractDirectives(args, opts)

	r.mu.RLock()
	candidates := r.idx.methodCandidates(component, method)
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, &pkgerrors.MethodNotFoundError{Component: component, Method: method}
	}

	strategyName := opts.Strategy
	if strategyName == "" {
		strategyName = "default"
	}
	sel, err := strategy.Resolve(strategyName, opts.Engine)
	if err != nil {
		return nil, err
	}

	asCandidates := make([]strategy.Candidate, len(candidates))
	for i, c := range candidates {
		asCandidates[i] = c
	}
	chosen, err := sel.Select(asCandidates)
	if err != nil {
		selectionTotal.WithLabelValues(sel.Name(), "no_candidate").Inc()
		return nil, err
	}
	selectionTotal.WithLabelValues(sel.Name(), "selected").Inc()

	reg, _ := r.idx.getEngine(component, method, chosen.EngineTag())

	r.hooks.Emit(ctx, hooks.EventMethodExecute, hooks.Payload{
		"component": component,
		"method":    method,
		"engine":    reg.Engine,
		"strategy":  sel.Name(),
	})

	return dispatch(reg, args)
}

// extractDirectives pulls the reserved "_strategy" / "_engine_type" keys
// out of a call's argument map. A directive names the selection strategy
// (or the exact engine, which implies engine_override) without the caller
// having to touch ExecuteOptions.
func extractDirectives(args map[string]any, opts ExecuteOptions) (map[string]any, ExecuteOptions) {
	_, hasStrategy := args["_strategy"]
	_, hasEngine := args["_engine_type"]
	if !hasStrategy && !hasEngine {
		return args, opts
	}

	clean := make(map[string]any, len(args))
	for k, v := range args {
		switch k {
		case "_strategy":
			if s, ok := v.(string); ok {
				opts.Strategy = s
			}
		case "_engine_type":
			if s, ok := v.(string); ok {
				opts.Engine = s
				if opts.Strategy == "" {
					opts.Strategy = "engine_override"
				}
			}
		default:
			clean[k] = v
		}
	}
	return clean, opts
}

// ExecuteWithEngine bypasses strategy selection entirely and calls the
// exact (component, method, engine) registration, failing if it does not exist.
func (r *Registry) ExecuteWithEngine(ctx context.Context, component, method, engine string, args map[string]any) (any, error) {
	r.mu.RLock()
	reg, ok := r.idx.getEngine(component, method, engine)
	r.mu.RUnlock()
	if !ok {
		return nil, &pkgerrors.EngineNotFoundError{Component: component, Method: method, Engine: engine}
	}

	r.hooks.Emit(ctx, hooks.EventMethodExecute, hooks.Payload{
		"component": component,
		"method":    method,
		"engine":    engine,
		"strategy":  "engine_override",
	})
	return dispatch(reg, args)
}

// Refresh clears the index and re-runs every registered Loader, then
// publishes after_registry_refresh. Plug-ins typically call Register again
// from inside their Loader, so the net effect is a clean re-scan.
func (r *Registry) Refresh(patterns []string) (int, error) {
	r.mu.Lock()
	r.idx.clear()
	r.mu.Unlock()

	n, err := r.AutoLoad(patterns)

	r.mu.RLock()
	count := len(r.idx.all())
	r.mu.RUnlock()

	r.hooks.Emit(context.Background(), hooks.EventRegistryRefreshed, hooks.Payload{
		"loaders_run":   n,
		"registrations": count,
	})
	return n, err
}
