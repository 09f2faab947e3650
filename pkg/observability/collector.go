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

package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// Collector is a TracerProvider that materializes every span it starts as
// a Span record, so the spans of one flow run can be inspected after the
// fact (the run timeline, tests). It may decorate another provider: each
// operation is mirrored to the delegate, letting one run both collect
// in-memory and export through the OpenTelemetry SDK.
type Collector struct {
	mu    sync.Mutex
	next  TracerProvider
	spans []*Span
}

// NewCollector creates a collecting provider. next may be nil for a
// collect-only provider.
func NewCollector(next TracerProvider) *Collector {
	return &Collector{next: next}
}

// Tracer returns a tracer whose spans are recorded by this collector.
func (c *Collector) Tracer(name string) Tracer {
	t := &collectorTracer{collector: c}
	if c.next != nil {
		t.next = c.next.Tracer(name)
	}
	return t
}

// Shutdown flushes the delegate, if any. Collected spans stay readable.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.next != nil {
		return c.next.Shutdown(ctx)
	}
	return nil
}

// ForceFlush flushes the delegate, if any.
func (c *Collector) ForceFlush(ctx context.Context) error {
	if c.next != nil {
		return c.next.ForceFlush(ctx)
	}
	return nil
}

// Spans returns a snapshot of every span started so far, ordered by start
// time. In-flight spans appear with a zero EndTime.
func (c *Collector) Spans() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Span, 0, len(c.spans))
	for _, sp := range c.spans {
		out = append(out, *sp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Reset drops every collected span.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = nil
}

type collectorCtxKey struct{}

type collectorTracer struct {
	collector *Collector
	next      Tracer
}

func (t *collectorTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle) {
	cfg := SpanConfig{}
	for _, opt := range opts {
		opt.ApplySpanOption(&cfg)
	}

	span := &Span{
		SpanID:     randomHex(8),
		Name:       name,
		Kind:       SpanKindInternal,
		StartTime:  time.Now(),
		Attributes: make(map[string]any),
	}
	if cfg.SpanKind != "" {
		span.Kind = cfg.SpanKind
	}
	if cfg.Timestamp != nil {
		span.StartTime = time.Unix(0, *cfg.Timestamp)
	}
	for k, v := range cfg.Attributes {
		span.Attributes[k] = v
	}

	if parent, ok := ctx.Value(collectorCtxKey{}).(*Span); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = randomHex(16)
	}

	t.collector.mu.Lock()
	t.collector.spans = append(t.collector.spans, span)
	t.collector.mu.Unlock()

	ctx = context.WithValue(ctx, collectorCtxKey{}, span)

	handle := &collectorSpanHandle{collector: t.collector, span: span}
	if t.next != nil {
		ctx, handle.next = t.next.Start(ctx, name, opts...)
	}
	return ctx, handle
}

type collectorSpanHandle struct {
	collector *Collector
	span      *Span
	next      SpanHandle
}

func (h *collectorSpanHandle) End(opts ...SpanEndOption) {
	cfg := SpanEndConfig{}
	for _, opt := range opts {
		opt.ApplySpanEndOption(&cfg)
	}

	h.collector.mu.Lock()
	if h.span.EndTime.IsZero() {
		if cfg.Timestamp != nil {
			h.span.EndTime = time.Unix(0, *cfg.Timestamp)
		} else {
			h.span.EndTime = time.Now()
		}
	}
	h.collector.mu.Unlock()

	if h.next != nil {
		h.next.End(opts...)
	}
}

func (h *collectorSpanHandle) SetStatus(code StatusCode, message string) {
	h.collector.mu.Lock()
	h.span.Status = SpanStatus{Code: code, Message: message}
	h.collector.mu.Unlock()

	if h.next != nil {
		h.next.SetStatus(code, message)
	}
}

func (h *collectorSpanHandle) SetAttributes(attrs map[string]any) {
	h.collector.mu.Lock()
	for k, v := range attrs {
		h.span.Attributes[k] = v
	}
	h.collector.mu.Unlock()

	if h.next != nil {
		h.next.SetAttributes(attrs)
	}
}

func (h *collectorSpanHandle) AddEvent(name string, attrs map[string]any) {
	h.collector.mu.Lock()
	h.span.Events = append(h.span.Events, Event{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attrs,
	})
	h.collector.mu.Unlock()

	if h.next != nil {
		h.next.AddEvent(name, attrs)
	}
}

func (h *collectorSpanHandle) SpanContext() TraceContext {
	h.collector.mu.Lock()
	tc := h.span.ToTraceContext()
	h.collector.mu.Unlock()
	return tc
}

func (h *collectorSpanHandle) RecordError(err error) {
	if err == nil {
		return
	}
	h.collector.mu.Lock()
	h.span.Events = append(h.span.Events, Event{
		Name:       "error",
		Timestamp:  time.Now(),
		Attributes: map[string]any{"message": err.Error()},
	})
	h.collector.mu.Unlock()

	if h.next != nil {
		h.next.RecordError(err)
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
