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

// Package handle implements MethodHandle: a late-binding reference to a
// registry method that predicts and resolves its engine lazily, with a
// short TTL cache and a fastpath that lets a recent prediction double as a
// resolution without repeating the selection work.
package handle

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/stepflow/orchestrator/pkg/errors"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
	"github.com/stepflow/orchestrator/pkg/orchestrator/registry/version"
)

const (
	defaultTTL            = 5 * time.Second
	fastpathWindowCapSecs = 5
)

// Prefer selects a non-default resolution preference. PreferAuto defers
// entirely to the registry's default ranking.
const PreferAuto = "auto"

// Selection records which engine a resolution or prediction landed on, and
// why, for Explain().
type Selection struct {
	Engine     string
	Version    string
	Priority   int
	Deprecated bool
	Reason     string
}

// Explanation is the decision trace returned by Explain.
type Explanation struct {
	Component  string
	Method     string
	Strategy   string
	Candidates []registry.ImplementationInfo
	Selected   *Selection
	At         time.Time
	Err        error
}

// Handle is a deferred (component, method) reference. It resolves its
// engine only when Resolve or Execute is first called, and caches that
// resolution for a configurable TTL. The zero value is not usable; create
// one with New.
type Handle struct {
	mu sync.Mutex

	reg *registry.Registry

	component   string
	method      string
	prefer      string
	fixedEngine string
	ttl         time.Duration
	fastpathOn  bool

	resolvedEngine string
	resolvedAt     time.Time
	explain        *Explanation
	lastPrediction *prediction
}

type prediction struct {
	engine     string
	version    string
	priority   int
	candidates []registry.ImplementationInfo
	at         time.Time
}

// Option configures a Handle at construction time.
type Option func(*Handle)

// WithPrefer sets a preferred engine tag; it is honored when present among
// the active candidates and ignored otherwise.
func WithPrefer(engine string) Option {
	return func(h *Handle) { h.prefer = engine }
}

// WithFixedEngine pins the handle to one engine, bypassing selection
// entirely — resolve and predict_signature both short-circuit to it.
func WithFixedEngine(engine string) Option {
	return func(h *Handle) { h.fixedEngine = engine }
}

// WithTTL overrides the default 5-second resolution cache lifetime. A zero
// or negative TTL disables caching — every Resolve call re-selects.
func WithTTL(ttl time.Duration) Option {
	return func(h *Handle) { h.ttl = ttl }
}

// New creates a deferred handle against component.method. Construction
// never touches the registry — no describe/resolve call happens until the
// first Resolve, Predict, or Execute.
func New(reg *registry.Registry, component, method string, opts ...Option) (*Handle, error) {
	if component == "" || method == "" {
		return nil, &pkgerrors.ValidationError{
			Field:   "handle",
			Message: "component and method must both be non-empty",
		}
	}
	h := &Handle{
		reg:        reg,
		component:  component,
		method:     method,
		prefer:     PreferAuto,
		ttl:        envTTL(),
		fastpathOn: envFastpath(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func envTTL() time.Duration {
	raw := os.Getenv("ORCH_HANDLE_RESOLVE_TTL")
	if raw == "" {
		return defaultTTL
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return defaultTTL
	}
	return time.Duration(secs * float64(time.Second))
}

func envFastpath() bool {
	return os.Getenv("ORCH_HANDLE_PREDICT_FASTPATH") != "0"
}

// Identity returns a short human-readable label: "component.method@auto:engine",
// "@fixed:engine", or "@unresolved".
func (h *Handle) Identity() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := fmt.Sprintf("%s.%s", h.component, h.method)
	if h.fixedEngine != "" {
		return base + "@fixed:" + h.fixedEngine
	}
	if h.resolvedEngine != "" {
		return base + "@auto:" + h.resolvedEngine
	}
	return base + "@unresolved"
}

// Explain returns the most recent resolution's decision trace, or a blank
// Explanation if Resolve has never run.
func (h *Handle) Explain() Explanation {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.explain != nil {
		return *h.explain
	}
	return Explanation{Component: h.component, Method: h.method}
}

// Resolve returns the engine tag this handle is bound to, using the TTL
// cache or a recent prediction when possible, and performing a fresh
// selection against the registry otherwise.
func (h *Handle) Resolve() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fixedEngine != "" {
		h.resolvedEngine = h.fixedEngine
		if h.explain == nil {
			h.explain = &Explanation{
				Component: h.component,
				Method:    h.method,
				Strategy:  "fixed",
				Selected:  &Selection{Engine: h.fixedEngine, Reason: "fixed_engine"},
				At:        time.Now(),
			}
		}
		return h.fixedEngine, nil
	}

	if h.cacheValidLocked() {
		return h.resolvedEngine, nil
	}

	if h.fastpathOn && h.lastPrediction != nil {
		window := h.ttl
		if window > fastpathWindowCapSecs*time.Second {
			window = fastpathWindowCapSecs * time.Second
		}
		if time.Since(h.lastPrediction.at) < window {
			p := h.lastPrediction
			h.resolvedEngine = p.engine
			h.resolvedAt = time.Now()
			h.explain = &Explanation{
				Component:  h.component,
				Method:     h.method,
				Strategy:   "predicted_fastpath",
				Candidates: p.candidates,
				Selected:   &Selection{Engine: p.engine, Version: p.version, Priority: p.priority, Reason: "fastpath"},
				At:         h.resolvedAt,
			}
			return h.resolvedEngine, nil
		}
	}

	return h.performResolutionLocked()
}

func (h *Handle) cacheValidLocked() bool {
	if h.resolvedEngine == "" || h.resolvedAt.IsZero() {
		return false
	}
	if h.ttl <= 0 {
		return false
	}
	return time.Since(h.resolvedAt) < h.ttl
}

func (h *Handle) performResolutionLocked() (string, error) {
	now := time.Now()
	candidates := h.reg.Describe(h.component, h.method)
	if len(candidates) == 0 {
		h.resolvedEngine = ""
		h.resolvedAt = now
		err := &pkgerrors.MethodNotFoundError{Component: h.component, Method: h.method}
		h.explain = &Explanation{Component: h.component, Method: h.method, Strategy: "error", At: now, Err: err}
		return "", err
	}

	active := excludeDeprecated(candidates)
	fallbackToAll := false
	if len(active) == 0 {
		active = candidates
		fallbackToAll = true
	}

	var chosen *registry.ImplementationInfo
	reason := ""
	if h.prefer != "" && h.prefer != PreferAuto {
		for i := range active {
			if active[i].Engine == h.prefer {
				chosen = &active[i]
				reason = "prefer_engine=" + h.prefer
				break
			}
		}
		if chosen == nil {
			reason = "prefer_missing=" + h.prefer
		}
	}
	if chosen == nil {
		best := bestRanked(active)
		if best == nil {
			err := &pkgerrors.NoCandidateError{Component: h.component, Method: h.method, Strategy: "default"}
			h.resolvedEngine = ""
			h.resolvedAt = now
			h.explain = &Explanation{Component: h.component, Method: h.method, Strategy: "error", At: now, Err: err}
			return "", err
		}
		chosen = best
		if reason == "" {
			reason = "rule=priority_version"
		} else {
			reason += "+rule=priority_version"
		}
	}
	if fallbackToAll {
		reason = "no_active_candidates_use_all+" + reason
	}

	h.resolvedEngine = chosen.Engine
	h.resolvedAt = now
	h.explain = &Explanation{
		Component:  h.component,
		Method:     h.method,
		Strategy:   "default_priority_version",
		Candidates: candidates,
		Selected: &Selection{
			Engine:     chosen.Engine,
			Version:    chosen.Version,
			Priority:   chosen.Priority,
			Deprecated: chosen.Deprecated,
			Reason:     reason,
		},
		At: now,
	}
	return h.resolvedEngine, nil
}

// PredictSignature returns a cache-fingerprint fragment of the shape
// "method@engine:version:priority" describing which implementation would
// currently be selected, without mutating the handle's resolved state. A
// successful prediction is remembered for the fastpath window Resolve can
// later reuse.
func (h *Handle) PredictSignature() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A recent resolution may stand in for a fresh prediction, but only
	// within a fifth of the resolve TTL — predictions feed cache keys, so
	// they tolerate much less staleness than dispatch does.
	if h.fastpathOn && h.resolvedEngine != "" && !h.resolvedAt.IsZero() && h.ttl > 0 &&
		time.Since(h.resolvedAt) < h.ttl/5 && h.explain != nil && h.explain.Selected != nil {
		sel := h.explain.Selected
		return fmt.Sprintf("%s@%s:%s:%d", h.method, orUnknown(sel.Engine), orUnknown(sel.Version), sel.Priority)
	}

	if h.fixedEngine != "" {
		for _, c := range h.reg.Describe(h.component, h.method) {
			if c.Engine == h.fixedEngine {
				return fmt.Sprintf("%s@%s:%s:%d", h.method, h.fixedEngine, orUnknown(c.Version), c.Priority)
			}
		}
		return fmt.Sprintf("%s@%s:unknown:0", h.method, h.fixedEngine)
	}

	candidates := h.reg.Describe(h.component, h.method)
	if len(candidates) == 0 {
		return fmt.Sprintf("%s@unknown:unknown:0", h.method)
	}
	active := excludeDeprecated(candidates)
	if len(active) == 0 {
		active = candidates
	}

	var chosen *registry.ImplementationInfo
	if h.prefer != "" && h.prefer != PreferAuto {
		for i := range active {
			if active[i].Engine == h.prefer {
				chosen = &active[i]
				break
			}
		}
	}
	if chosen == nil {
		chosen = bestRanked(active)
	}
	if chosen == nil {
		return fmt.Sprintf("%s@unknown:unknown:0", h.method)
	}

	h.lastPrediction = &prediction{
		engine:     chosen.Engine,
		version:    orUnknown(chosen.Version),
		priority:   chosen.Priority,
		candidates: candidates,
		at:         time.Now(),
	}
	return fmt.Sprintf("%s@%s:%s:%d", h.method, chosen.Engine, orUnknown(chosen.Version), chosen.Priority)
}

// Execute resolves the handle's engine and dispatches args to it via
// Registry.ExecuteWithEngine.
func (h *Handle) Execute(ctx context.Context, args map[string]any) (any, error) {
	engine, err := h.Resolve()
	if err != nil {
		return nil, err
	}
	return h.reg.ExecuteWithEngine(ctx, h.component, h.method, engine, args)
}

// Invalidate clears the resolved engine and cached prediction so the next
// Resolve performs a fresh selection. The decision trace (Explain) is kept
// for diagnostics.
func (h *Handle) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolvedEngine = ""
	h.resolvedAt = time.Time{}
	h.lastPrediction = nil
}

func excludeDeprecated(in []registry.ImplementationInfo) []registry.ImplementationInfo {
	out := make([]registry.ImplementationInfo, 0, len(in))
	for _, c := range in {
		if !c.Deprecated {
			out = append(out, c)
		}
	}
	return out
}

// bestRanked picks the highest (priority, version) candidate, matching the
// registry's default strategy so predictions and resolutions agree.
func bestRanked(candidates []registry.ImplementationInfo) *registry.ImplementationInfo {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if rankLess(best, c) {
			best = c
		}
	}
	return &best
}

func rankLess(a, b registry.ImplementationInfo) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return version.Compare(a.Version, b.Version) < 0
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
