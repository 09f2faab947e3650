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
	"errors"
	"testing"
)

func TestCollectorMaterializesSpanTree(t *testing.T) {
	c := NewCollector(nil)
	tracer := c.Tracer("test")

	ctx, flowSpan := tracer.Start(context.Background(), "flow.run",
		WithAttributes(map[string]any{"pipeline": "demo"}))
	_, nodeSpan := tracer.Start(ctx, "node.load")
	nodeSpan.SetStatus(StatusCodeOK, "")
	nodeSpan.End()
	flowSpan.SetStatus(StatusCodeOK, "")
	flowSpan.End()

	spans := c.Spans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	flow, node := spans[0], spans[1]
	if flow.Name != "flow.run" {
		t.Fatalf("expected flow span first, got %q", flow.Name)
	}
	if flow.ParentID != "" {
		t.Error("flow span must be a root")
	}
	if node.ParentID != flow.SpanID {
		t.Error("node span must be a child of the flow span")
	}
	if node.TraceID != flow.TraceID {
		t.Error("child must share the flow's trace ID")
	}
	if flow.Attributes["pipeline"] != "demo" {
		t.Errorf("start attributes must be recorded, got %v", flow.Attributes)
	}
	if !flow.Success() || !node.Success() {
		t.Error("both spans must report success")
	}
	if flow.IsActive() || node.IsActive() {
		t.Error("ended spans must not be active")
	}
	if flow.Duration() <= 0 {
		t.Error("ended spans must have a positive duration")
	}
}

func TestCollectorRecordsErrors(t *testing.T) {
	c := NewCollector(nil)
	tracer := c.Tracer("test")

	_, span := tracer.Start(context.Background(), "node.clean")
	span.RecordError(errors.New("value error"))
	span.SetStatus(StatusCodeError, "value error")
	span.End()

	spans := c.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	sp := spans[0]
	if sp.Success() {
		t.Error("errored span must not report success")
	}
	if sp.Status.Message != "value error" {
		t.Errorf("unexpected status message %q", sp.Status.Message)
	}
	if len(sp.Events) != 1 || sp.Events[0].Name != "error" {
		t.Fatalf("expected one error event, got %v", sp.Events)
	}
	if sp.Events[0].Attributes["message"] != "value error" {
		t.Errorf("unexpected event attributes %v", sp.Events[0].Attributes)
	}
}

func TestCollectorSpanContextAndActiveSpans(t *testing.T) {
	c := NewCollector(nil)
	tracer := c.Tracer("test")

	_, span := tracer.Start(context.Background(), "flow.run")
	tc := span.SpanContext()
	if tc.TraceID == "" || tc.SpanID == "" {
		t.Error("span context must carry trace and span IDs")
	}

	spans := c.Spans()
	if len(spans) != 1 || !spans[0].IsActive() {
		t.Fatal("an un-ended span must appear as active")
	}
	if spans[0].Duration() != 0 {
		t.Error("active spans report zero duration")
	}
	span.End()
	span.End() // double End is a no-op

	if got := c.Spans()[0]; got.IsActive() {
		t.Error("ended span must not be active")
	}

	c.Reset()
	if len(c.Spans()) != 0 {
		t.Error("Reset must drop collected spans")
	}
}
