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

package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// SnapshotStore persists one JSON file per failed step under
// <project>/.pipeline/failures/<step>.json. It implements
// engine.SnapshotStore.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates a store rooted at the project's failures
// directory.
func NewSnapshotStore(paths Paths) *SnapshotStore {
	return &SnapshotStore{dir: paths.FailuresDir}
}

func (s *SnapshotStore) path(step string) string {
	return filepath.Join(s.dir, step+".json")
}

// Write persists a failure snapshot, replacing any previous snapshot for
// the same step.
func (s *SnapshotStore) Write(snap engine.FailureSnapshot) error {
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot for %q: %w", snap.StepName, err)
	}
	return os.WriteFile(s.path(snap.StepName), data, 0o644)
}

// Read loads the snapshot for one step.
func (s *SnapshotStore) Read(step string) (engine.FailureSnapshot, error) {
	data, err := os.ReadFile(s.path(step))
	if err != nil {
		return engine.FailureSnapshot{}, err
	}
	var snap engine.FailureSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return engine.FailureSnapshot{}, fmt.Errorf("decoding snapshot for %q: %w", step, err)
	}
	return snap, nil
}

// List returns the step names with a snapshot on disk, sorted.
func (s *SnapshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var steps []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		steps = append(steps, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(steps)
	return steps, nil
}

// Remove deletes the snapshot for one step; removing a step with no
// snapshot is not an error.
func (s *SnapshotStore) Remove(step string) error {
	err := os.Remove(s.path(step))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
