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

	"github.com/stepflow/orchestrator/pkg/orchestrator/engine"
)

// WriteLastRun persists the assembled run result so the metrics command
// can report on it after the process exits.
func WriteLastRun(paths Paths, result *engine.Result) error {
	if err := ensureDir(filepath.Dir(paths.LastRunFile)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(paths.LastRunFile, data, 0o644)
}

// ReadLastRun loads the most recent persisted run result.
func ReadLastRun(paths Paths) (*engine.Result, error) {
	data, err := os.ReadFile(paths.LastRunFile)
	if err != nil {
		return nil, err
	}
	var result engine.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
