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

// Package timeline renders collected trace spans as an indented,
// human-readable execution timeline: the flow span as root, one child
// span per node, with durations, outcomes and recorded error events.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stepflow/orchestrator/pkg/observability"
)

// Render formats the spans of one (or more) flow runs as a tree. Roots
// are spans without a parent; children are grouped under their parent and
// ordered by start time.
func Render(spans []observability.Span) string {
	children := make(map[string][]observability.Span)
	var roots []observability.Span
	for _, sp := range spans {
		if sp.ParentID == "" {
			roots = append(roots, sp)
		} else {
			children[sp.ParentID] = append(children[sp.ParentID], sp)
		}
	}
	sortByStart(roots)
	for id := range children {
		sortByStart(children[id])
	}

	var b strings.Builder
	for _, root := range roots {
		tc := root.ToTraceContext()
		fmt.Fprintf(&b, "trace %s\n", shortID(tc.TraceID))
		renderSpan(&b, root, children, 0)
	}
	return b.String()
}

func renderSpan(b *strings.Builder, sp observability.Span, children map[string][]observability.Span, depth int) {
	indent := strings.Repeat("  ", depth+1)

	duration := "running"
	if !sp.IsActive() {
		duration = sp.Duration().Round(time.Millisecond).String()
	}
	fmt.Fprintf(b, "%s%s %-28s %10s", indent, marker(sp), sp.Name, duration)

	if msg := sp.Status.Message; msg != "" && sp.Status.Code == observability.StatusCodeError {
		fmt.Fprintf(b, "  %s", msg)
	}
	b.WriteString("\n")

	for _, ev := range sp.Events {
		if ev.Name != "error" {
			continue
		}
		if msg, ok := ev.Attributes["message"]; ok {
			fmt.Fprintf(b, "%s  ! %v\n", indent, msg)
		}
	}

	for _, child := range children[sp.SpanID] {
		renderSpan(b, child, children, depth+1)
	}
}

func marker(sp observability.Span) string {
	switch {
	case sp.IsActive():
		return "…"
	case sp.Success():
		return "✓"
	case sp.Status.Code == observability.StatusCodeError:
		return "✗"
	default:
		return "•"
	}
}

func sortByStart(spans []observability.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
