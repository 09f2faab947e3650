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
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTelConfig configures the OpenTelemetry-backed provider.
type OTelConfig struct {
	// ServiceName tags every span and metric.
	ServiceName string

	// TraceWriter, when non-nil, receives spans via the stdout trace
	// exporter (pretty-printed JSON). Nil disables span export — spans
	// are still created so handles and context propagation work.
	TraceWriter io.Writer

	// EnableMetrics registers a Prometheus reader on the meter provider,
	// exposing OTel instruments through the default Prometheus registry
	// next to the engine's native promauto collectors.
	EnableMetrics bool
}

// OTelProvider implements TracerProvider on the OpenTelemetry SDK.
type OTelProvider struct {
	tp    *sdktrace.TracerProvider
	mp    *sdkmetric.MeterProvider
	spans metric.Int64Counter
	svc   string
}

// NewOTelProvider builds a TracerProvider backed by the OpenTelemetry SDK
// and installs it (and, when metrics are enabled, its meter provider) as
// the process globals.
func NewOTelProvider(cfg OTelConfig) (*OTelProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}

	var tpOpts []sdktrace.TracerProviderOption
	if cfg.TraceWriter != nil {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(cfg.TraceWriter),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: building stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	p := &OTelProvider{tp: tp, svc: cfg.ServiceName}

	if cfg.EnableMetrics {
		reader, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("observability: building prometheus reader: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		otel.SetMeterProvider(p.mp)

		meter := p.mp.Meter(cfg.ServiceName)
		p.spans, err = meter.Int64Counter("orchestrator_spans_started_total",
			metric.WithDescription("Spans started, by instrumentation scope"))
		if err != nil {
			return nil, fmt.Errorf("observability: creating span counter: %w", err)
		}
	}
	return p, nil
}

// Tracer returns a tracer for one instrumentation scope.
func (p *OTelProvider) Tracer(name string) Tracer {
	return &otelTracer{provider: p, tracer: p.tp.Tracer(name), scope: name}
}

// Shutdown flushes and stops the underlying SDK providers.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	err := p.tp.Shutdown(ctx)
	if p.mp != nil {
		if merr := p.mp.Shutdown(ctx); err == nil {
			err = merr
		}
	}
	return err
}

// ForceFlush exports all pending spans synchronously.
func (p *OTelProvider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

type otelTracer struct {
	provider *OTelProvider
	tracer   oteltrace.Tracer
	scope    string
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle) {
	cfg := SpanConfig{}
	for _, opt := range opts {
		opt.ApplySpanOption(&cfg)
	}

	var startOpts []oteltrace.SpanStartOption
	if len(cfg.Attributes) > 0 {
		startOpts = append(startOpts, oteltrace.WithAttributes(toKeyValues(cfg.Attributes)...))
	}
	if cfg.SpanKind != "" {
		startOpts = append(startOpts, oteltrace.WithSpanKind(toOTelKind(cfg.SpanKind)))
	}

	ctx, span := t.tracer.Start(ctx, name, startOpts...)
	if t.provider.spans != nil {
		t.provider.spans.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", t.scope)))
	}
	return ctx, &otelSpanHandle{span: span}
}

type otelSpanHandle struct {
	span oteltrace.Span
}

func (h *otelSpanHandle) End(opts ...SpanEndOption) {
	cfg := SpanEndConfig{}
	for _, opt := range opts {
		opt.ApplySpanEndOption(&cfg)
	}
	h.span.End()
}

func (h *otelSpanHandle) SetStatus(code StatusCode, message string) {
	switch code {
	case StatusCodeOK:
		h.span.SetStatus(codes.Ok, message)
	case StatusCodeError:
		h.span.SetStatus(codes.Error, message)
	default:
		h.span.SetStatus(codes.Unset, message)
	}
}

func (h *otelSpanHandle) SetAttributes(attrs map[string]any) {
	h.span.SetAttributes(toKeyValues(attrs)...)
}

func (h *otelSpanHandle) AddEvent(name string, attrs map[string]any) {
	h.span.AddEvent(name, oteltrace.WithAttributes(toKeyValues(attrs)...))
}

func (h *otelSpanHandle) SpanContext() TraceContext {
	sc := h.span.SpanContext()
	return TraceContext{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
	}
}

func (h *otelSpanHandle) RecordError(err error) {
	h.span.RecordError(err)
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}

func toOTelKind(kind SpanKind) oteltrace.SpanKind {
	switch kind {
	case SpanKindClient:
		return oteltrace.SpanKindClient
	case SpanKindServer:
		return oteltrace.SpanKindServer
	case SpanKindProducer:
		return oteltrace.SpanKindProducer
	case SpanKindConsumer:
		return oteltrace.SpanKindConsumer
	default:
		return oteltrace.SpanKindInternal
	}
}
