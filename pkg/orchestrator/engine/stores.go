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

import "time"

// SignatureStore persists the step -> signature index across processes.
// Implemented by internal/workspace's sqlite-backed store; nil disables
// persistence (the in-memory flow map still caches within the process).
type SignatureStore interface {
	Get(step string) (string, bool, error)
	Put(step, signature string) error
	Delete(steps ...string) error
	All() (map[string]string, error)
}

// DatasetStore persists catalog values so a later process can cache-hit
// without re-executing the producing step. Values must round-trip through
// the store's encoding; a value that does not is silently treated as a
// cache miss on load.
type DatasetStore interface {
	Save(name string, value any) error
	LoadAll() (map[string]any, error)
	Delete(names ...string) error
}

// FailureSnapshot is the persisted record of one failed node, written under
// <project>/.pipeline/failures/<step>.json.
type FailureSnapshot struct {
	StepName        string         `json:"step_name"`
	RunID           string         `json:"run_id"`
	ErrorType       string         `json:"error_type"`
	ErrorMessage    string         `json:"error_message"`
	Traceback       string         `json:"traceback,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	UpstreamOutputs []string       `json:"upstream_outputs,omitempty"`
}

// SnapshotStore reads and writes failure snapshots.
type SnapshotStore interface {
	Write(snap FailureSnapshot) error
	Read(step string) (FailureSnapshot, error)
	List() ([]string, error)
	Remove(step string) error
}
