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
	"sort"

	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
)

// Resume prepares a flow to re-run after a partial failure: every step with
// a failure snapshot, plus its transitive descendants, has its recorded
// signature dropped so the cache cannot serve it. Steps outside that set
// keep their signatures and catalog entries and so cache-hit as usual.
// Returns the sorted list of steps forced to re-execute.
func Resume(flow *flowctx.Flow, snapshots SnapshotStore) ([]string, error) {
	if snapshots == nil {
		return nil, nil
	}
	failed, err := snapshots.List()
	if err != nil {
		return nil, err
	}

	rerun := make(map[string]bool)
	var mark func(step string)
	mark = func(step string) {
		if rerun[step] {
			return
		}
		rerun[step] = true
		for _, succ := range flow.Graph.Successors(step) {
			mark(succ)
		}
	}
	for _, step := range failed {
		if flow.Graph.Contains(step) {
			mark(step)
		}
	}

	out := make([]string, 0, len(rerun))
	for step := range rerun {
		flow.DropSignature(step)
		if node, ok := flow.Node(step); ok {
			for _, ds := range node.OutputSets {
				flow.Catalog.Delete(ds)
			}
		}
		out = append(out, step)
	}
	sort.Strings(out)
	return out, nil
}
