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
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
)

// CacheDecision reports, for one step, whether the cache would serve it on
// the next run.
type CacheDecision struct {
	Step            string `json:"step"`
	Signature       string `json:"signature"`
	StoredSignature string `json:"stored_signature,omitempty"`
	OutputsPresent  bool   `json:"outputs_present"`
	Hit             bool   `json:"hit"`
}

// CachePlan walks the execution plan in order, computing each step's fresh
// signature (upstream signatures propagate as it goes) and comparing it
// against the flow's seeded signature map and catalog contents — the same
// decision the engine would make, without executing anything. The flow's
// signature map is updated in place; hand this a throwaway flow.
func CachePlan(flow *flowctx.Flow) []CacheDecision {
	var out []CacheDecision
	for _, step := range flow.Plan.Flatten() {
		node, ok := flow.Node(step)
		if !ok {
			continue
		}
		stored, had := flow.Signature(step)
		sig := computeSignature(flow, node)
		flow.SetSignature(step, sig)

		present := len(node.OutputSets) > 0 && firstMissingOutput(flow, node) == ""
		out = append(out, CacheDecision{
			Step:            step,
			Signature:       sig,
			StoredSignature: stored,
			OutputsPresent:  present,
			Hit:             had && stored == sig && present,
		})
	}
	return out
}
