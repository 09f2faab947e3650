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

// Package plugins keeps the process-wide plug-in list and the default
// registry it populates. Domain plug-in packages register a Loader from
// their init function; the CLI (or any host program) then builds the
// shared registry once at startup with Populate.
package plugins

import (
	"log/slog"
	"sync"

	"github.com/stepflow/orchestrator/pkg/orchestrator/registry"
)

var (
	mu      sync.Mutex
	loaders []entry

	defaultOnce sync.Once
	defaultReg  *registry.Registry
	defaultErr  error
)

type entry struct {
	dir    string
	loader registry.Loader
}

// LoaderFunc adapts a plain function to the registry.Loader interface.
type LoaderFunc func(*registry.Registry) error

func (f LoaderFunc) Load(r *registry.Registry) error { return f(r) }

// Register adds a plug-in loader under its logical directory name. The
// name participates in scan-pattern matching and the disable list, so it
// should be stable (typically the plug-in's package name).
func Register(dir string, l registry.Loader) {
	mu.Lock()
	defer mu.Unlock()
	loaders = append(loaders, entry{dir: dir, loader: l})
}

// RegisterFunc is Register for a bare function.
func RegisterFunc(dir string, fn func(*registry.Registry) error) {
	Register(dir, LoaderFunc(fn))
}

// Populate attaches every registered loader to r and runs them through
// AutoLoad, honoring the disable list and the given scan patterns (nil
// patterns match everything).
func Populate(r *registry.Registry, patterns []string) (int, error) {
	mu.Lock()
	entries := append([]entry(nil), loaders...)
	mu.Unlock()

	for _, e := range entries {
		r.RegisterLoader(e.dir, e.loader)
	}
	return r.AutoLoad(patterns)
}

// Default returns the lazily built process-wide registry, populated from
// every plug-in registered before the first call. Later Register calls do
// not affect an already built default registry; its Refresh re-runs only
// the loaders attached when it was built.
func Default(logger *slog.Logger) (*registry.Registry, error) {
	defaultOnce.Do(func() {
		opts := []registry.Option{}
		if logger != nil {
			opts = append(opts, registry.WithLogger(logger))
		}
		defaultReg = registry.New(opts...)
		_, defaultErr = Populate(defaultReg, nil)
	})
	return defaultReg, defaultErr
}
