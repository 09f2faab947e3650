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

// Package hooks implements the orchestrator's process-wide event bus.
// Handlers are invoked synchronously, in registration order, against a
// stable snapshot of the listener list; a handler error is logged and
// never aborts the flow.
package hooks

import (
	"context"
	"log/slog"
	"sync"
)

// Named lifecycle events. The execution engine publishes all but the last
// two ("after_method_registered", "after_registry_refresh"), which the
// registry publishes on the same Bus.
const (
	EventBeforeFlow        = "before_flow"
	EventAfterFlow         = "after_flow"
	EventBeforeNode        = "before_node"
	EventAfterNode         = "after_node"
	EventCacheHit          = "on_cache_hit"
	EventCacheMiss         = "on_cache_miss"
	EventMethodExecute     = "on_method_execute"
	EventFailure           = "on_failure"
	EventMethodRegistered  = "after_method_registered"
	EventRegistryRefreshed = "after_registry_refresh"
)

// Payload is the data passed to a handler. It is a plain map so plug-ins
// never need to import orchestrator-internal types to observe events.
type Payload map[string]any

// Handler reacts to one event. Returning an error only gets it logged —
// it never interrupts the flow or other handlers.
type Handler func(ctx context.Context, event string, data Payload) error

// Bus is a copy-on-write, mutex-protected pub/sub dispatcher.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Handler
	counts    map[string]int
	logger    *slog.Logger
}

// NewBus creates an empty event bus. A nil logger defaults to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string][]Handler),
		counts:    make(map[string]int),
		logger:    logger,
	}
}

// On registers a handler for the given event name.
func (b *Bus) On(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], h)
}

// Clear removes every registered handler for every event.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]Handler)
}

// Unregister removes all handlers registered for one event name.
func (b *Bus) Unregister(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, event)
}

// HandlerCount reports how many handlers are currently registered for event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// InvocationCount reports how many times Emit has been called for event,
// regardless of how many handlers ran.
func (b *Bus) InvocationCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[event]
}

// Emit dispatches data to every handler registered for event, synchronously
// and in registration order, against a snapshot taken under a read lock.
// Handler errors are logged and swallowed — never propagated to the caller.
func (b *Bus) Emit(ctx context.Context, event string, data Payload) {
	b.mu.Lock()
	b.counts[event]++
	b.mu.Unlock()

	b.mu.RLock()
	snapshot := make([]Handler, len(b.listeners[event]))
	copy(snapshot, b.listeners[event])
	b.mu.RUnlock()

	for _, h := range snapshot {
		if err := h(ctx, event, data); err != nil {
			b.logger.Warn("hook handler failed", "event", event, "error", err)
		}
	}
}
