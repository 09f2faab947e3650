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

// Package observability provides the tracing abstraction the execution
// engine instruments itself with: a TracerProvider/Tracer/SpanHandle
// interface layer (provider.go), an OpenTelemetry-backed implementation
// (otel.go), and an in-memory collector (collector.go) that materializes
// completed spans for the run timeline.
package observability

import (
	"time"
)

// Span is the materialized record of one completed (or in-flight) unit of
// work: the whole flow run, or a single node within it. The collector
// produces these; the CLI timeline consumes them.
type Span struct {
	// TraceID ties every span of one flow run together.
	TraceID string

	// SpanID uniquely identifies this span within the trace.
	SpanID string

	// ParentID is the SpanID of the enclosing span — the flow span for a
	// node span. Empty for the flow root.
	ParentID string

	// Name is the span label, e.g. "flow.run" or "node.clean_prices".
	Name string

	// Kind indicates the span's role in the trace.
	Kind SpanKind

	// StartTime is when this span began.
	StartTime time.Time

	// EndTime is when this span completed. Zero while still running.
	EndTime time.Time

	// Status indicates the span's outcome.
	Status SpanStatus

	// Attributes carries span metadata: step name, signature, cache hit.
	Attributes map[string]any

	// Events are timestamped occurrences recorded inside the span,
	// including errors captured via RecordError.
	Events []Event
}

// SpanKind categorizes the type of work represented by a span.
type SpanKind string

const (
	// SpanKindInternal is the default for engine-internal work; flow and
	// node spans use it.
	SpanKindInternal SpanKind = "internal"

	// SpanKindClient marks an outbound call, e.g. a method implementation
	// reaching a database or remote store.
	SpanKindClient SpanKind = "client"

	// SpanKindServer marks handling of an inbound request.
	SpanKindServer SpanKind = "server"

	// SpanKindProducer marks publishing to a queue or broker.
	SpanKindProducer SpanKind = "producer"

	// SpanKindConsumer marks consuming from a queue or broker.
	SpanKindConsumer SpanKind = "consumer"
)

// SpanStatus indicates whether a span completed successfully.
type SpanStatus struct {
	// Code is the status category.
	Code StatusCode

	// Message carries the error text for failed spans.
	Message string
}

// StatusCode represents the outcome of a span.
type StatusCode int

const (
	// StatusCodeUnset indicates no status was explicitly set.
	StatusCodeUnset StatusCode = 0

	// StatusCodeOK indicates successful completion.
	StatusCodeOK StatusCode = 1

	// StatusCodeError indicates an error occurred.
	StatusCodeError StatusCode = 2
)

// Event represents a timestamped occurrence within a span.
type Event struct {
	// Name identifies the event type.
	Name string

	// Timestamp is when this event occurred.
	Timestamp time.Time

	// Attributes contains event-specific metadata.
	Attributes map[string]any
}

// TraceContext contains the propagation information for distributed
// tracing, following the W3C Trace Context specification.
type TraceContext struct {
	// TraceID uniquely identifies the trace.
	TraceID string

	// SpanID identifies the current span.
	SpanID string

	// TraceFlags contains trace-level flags (sampled, debug, etc).
	TraceFlags byte

	// TraceState holds vendor-specific trace information.
	TraceState string
}

// Duration returns the span's execution time, or 0 while it is still
// running.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// IsActive reports whether the span is still in progress.
func (s *Span) IsActive() bool {
	return s.EndTime.IsZero()
}

// Success reports whether the span completed successfully.
func (s *Span) Success() bool {
	return s.Status.Code == StatusCodeOK
}

// ToTraceContext extracts the trace context for propagation.
func (s *Span) ToTraceContext() TraceContext {
	return TraceContext{
		TraceID: s.TraceID,
		SpanID:  s.SpanID,
	}
}
