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
	"os"
	"path/filepath"
	"strings"
)

// DatasetCache persists catalog values as one JSON file per dataset under
// <project>/.pipeline/cache/datasets, so a later process can warm its
// catalog and cache-hit without re-executing producers. Values that do not
// survive a JSON round trip are skipped on save and so re-executed later —
// a silent cache miss, never an error. Implements engine.DatasetStore.
type DatasetCache struct {
	dir string
}

// NewDatasetCache creates a cache rooted at the project's dataset
// directory.
func NewDatasetCache(paths Paths) *DatasetCache {
	return &DatasetCache{dir: paths.DatasetsDir}
}

func (c *DatasetCache) path(name string) string {
	return filepath.Join(c.dir, name+".json")
}

// Save persists one dataset value.
func (c *DatasetCache) Save(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		// Not JSON-serializable: skip persistence, keep the run going.
		return nil
	}
	if err := ensureDir(c.dir); err != nil {
		return err
	}
	return os.WriteFile(c.path(name), data, 0o644)
}

// LoadAll reads every persisted dataset. Unreadable entries are skipped.
func (c *DatasetCache) LoadAll() (map[string]any, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			continue
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			continue
		}
		out[strings.TrimSuffix(e.Name(), ".json")] = value
	}
	return out, nil
}

// Delete removes the given datasets; no names means remove all.
func (c *DatasetCache) Delete(names ...string) error {
	if len(names) == 0 {
		err := os.RemoveAll(c.dir)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, name := range names {
		if err := os.Remove(c.path(name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
