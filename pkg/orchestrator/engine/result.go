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
	"time"

	"github.com/stepflow/orchestrator/pkg/orchestrator/catalog"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
)

// CacheStats summarizes cache behavior over one flow run.
type CacheStats struct {
	NodeTotal             int     `json:"node_total"`
	CacheHits             int     `json:"cache_hits"`
	CacheMiss             int     `json:"cache_miss"`
	CacheHitRate          float64 `json:"cache_hit_rate"`
	TotalExecutionTimeSec float64 `json:"total_execution_time_sec"`
}

// Result is the assembled outcome of one flow run.
type Result struct {
	Status        string           `json:"status"` // "success" or "failed"
	Pipeline      string           `json:"pipeline"`
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	ExecutedSteps []string         `json:"executed_steps"`
	Records       []catalog.Record `json:"records"`
	Outputs       []string         `json:"outputs"`
	Cache         CacheStats       `json:"cache"`
	Error         string           `json:"error,omitempty"`
}

// assembleResult builds the Result from the flow's lineage and catalog
// after every layer has completed (or the flow aborted).
func assembleResult(flow *flowctx.Flow, started time.Time, runErr error) *Result {
	records := flow.Lineage.All()

	stats := CacheStats{NodeTotal: len(records)}
	var executed []string
	for _, rec := range records {
		executed = append(executed, rec.Step)
		if rec.Cached {
			stats.CacheHits++
		} else if rec.Status == catalog.StatusSuccess || rec.Status == catalog.StatusFailed {
			stats.CacheMiss++
		}
		stats.TotalExecutionTimeSec += rec.Duration.Seconds()
	}
	if stats.NodeTotal > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.NodeTotal)
	}

	res := &Result{
		Status:        "success",
		Pipeline:      flow.Config.Name,
		RunID:         flow.RunID,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		ExecutedSteps: executed,
		Records:       records,
		Outputs:       flow.Catalog.Keys(),
		Cache:         stats,
	}
	if runErr != nil {
		res.Status = "failed"
		res.Error = runErr.Error()
	}
	return res
}
