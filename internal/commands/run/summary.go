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

package run

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// printSummary renders the human-readable run report: one line per step
// plus cache totals.
func printSummary(cmd *cobra.Command, result *engine.Result) {
	cmd.Printf("pipeline %s: %s (%s)\n",
		result.Pipeline, result.Status,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	for _, rec := range result.Records {
		marker := statusMarker(rec)
		line := fmt.Sprintf("  %s %-24s %10s", marker, rec.Step, rec.Duration.Round(time.Millisecond))
		if rec.Cached {
			line += "  (cached)"
		}
		if rec.SkipReason != "" {
			line += "  (" + rec.SkipReason + ")"
		}
		if rec.Error != "" {
			line += "  error: " + rec.Error
		}
		cmd.Println(line)
	}

	c := result.Cache
	cmd.Printf("steps: %d  cache hits: %d  misses: %d  hit rate: %.0f%%\n",
		c.NodeTotal, c.CacheHits, c.CacheMiss, c.CacheHitRate*100)
	if result.Error != "" {
		cmd.Printf("error: %s\n", result.Error)
	}
}

func statusMarker(rec catalog.Record) string {
	switch rec.Status {
	case catalog.StatusSuccess, catalog.StatusCached:
		return "✓"
	case catalog.StatusFailed:
		return "✗"
	case catalog.StatusSkipped:
		return "-"
	case catalog.StatusCancelled:
		return "!"
	default:
		return "?"
	}
}
