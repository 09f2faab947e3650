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

// Package workspace owns the orchestrator's on-disk project state under
// <project>/.pipeline: failure snapshots, the sqlite signature index, the
// persisted dataset cache, and the last-run metrics file.
package workspace

import (
	"os"
	"path/filepath"
)

const pipelineDirName = ".pipeline"

// Paths locates the pieces of a project's .pipeline directory.
type Paths struct {
	Root         string
	PipelineDir  string
	FailuresDir  string
	CacheDir     string
	DatasetsDir  string
	SignaturesDB string
	LastRunFile  string
}

// Resolve finds the project root by walking up from start until a
// directory containing .pipeline is found. When none exists, start itself
// becomes the root and the .pipeline tree is created on first write.
func Resolve(start string) (Paths, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return Paths{}, err
	}

	root := abs
	for dir := abs; ; {
		if info, err := os.Stat(filepath.Join(dir, pipelineDirName)); err == nil && info.IsDir() {
			root = dir
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	pipelineDir := filepath.Join(root, pipelineDirName)
	return Paths{
		Root:         root,
		PipelineDir:  pipelineDir,
		FailuresDir:  filepath.Join(pipelineDir, "failures"),
		CacheDir:     filepath.Join(pipelineDir, "cache"),
		DatasetsDir:  filepath.Join(pipelineDir, "cache", "datasets"),
		SignaturesDB: filepath.Join(pipelineDir, "cache", "signatures.db"),
		LastRunFile:  filepath.Join(pipelineDir, "metrics", "last_run.json"),
	}, nil
}

// ensureDir creates a directory (and parents) if it does not exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
