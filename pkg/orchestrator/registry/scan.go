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

package registry

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MethodSpec is one entry in a plug-in's method table — the metadata Scan
// needs to register a Callable without repeating component/engine per call.
type MethodSpec struct {
	Method      string
	Version     string
	Priority    int
	Deprecated  bool
	Description string
	Callable    Callable
}

// Scan is a bulk-registration convenience: a plug-in hands the registry
// its whole method table for one (component, engine) pair in a single
// call instead of calling Register once per method.
func (r *Registry) Scan(component, engine string, methods []MethodSpec) (int, error) {
	n := 0
	for _, m := range methods {
		err := r.Register(Registration{
			Component:   component,
			Method:      m.Method,
			Engine:      engine,
			Version:     m.Version,
			Priority:    m.Priority,
			Deprecated:  m.Deprecated,
			Description: m.Description,
			Callable:    m.Callable,
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Loader re-populates the registry with one plug-in's registrations. It is
// invoked by AutoLoad/Refresh when the loader's directory matches a scan
// pattern and is not in the disable list.
type Loader interface {
	Load(r *Registry) error
}

type loaderEntry struct {
	dir    string
	loader Loader
}

// RegisterLoader associates a Loader with the on-disk plug-in directory it
// was discovered in, so AutoLoad can select it by glob and the disable list
// can exclude it by name.
func (r *Registry) RegisterLoader(dir string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, loaderEntry{dir: filepath.Clean(dir), loader: l})
}

// AutoLoad runs every registered Loader whose directory matches one of the
// doublestar patterns and is not excluded by ORCH_DISABLE_PLUGINS or a
// .pipeline_disable_plugins file in the working directory.
func (r *Registry) AutoLoad(patterns []string) (int, error) {
	disabled := disabledPlugins()

	r.mu.RLock()
	entries := append([]loaderEntry(nil), r.loaders...)
	r.mu.RUnlock()

	loaded := 0
	for _, e := range entries {
		name := filepath.Base(e.dir)
		if disabled[name] {
			r.logger.Debug("skipping disabled plug-in", "plugin", name)
			continue
		}
		if !matchesAny(patterns, e.dir) {
			continue
		}
		if err := e.loader.Load(r); err != nil {
			return loaded, err
		}
		loaded++
		r.logger.Debug("loaded plug-in", "plugin", name)
	}
	return loaded, nil
}

func matchesAny(patterns []string, dir string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, dir); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, filepath.Base(dir)); ok {
			return true
		}
	}
	return false
}

// disabledPlugins merges ORCH_DISABLE_PLUGINS (comma-separated) with the
// contents of ./.pipeline_disable_plugins, one name per line.
func disabledPlugins() map[string]bool {
	out := make(map[string]bool)
	for _, name := range strings.Split(os.Getenv("ORCH_DISABLE_PLUGINS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}

	f, err := os.Open(".pipeline_disable_plugins")
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" && !strings.HasPrefix(name, "#") {
			out[name] = true
		}
	}
	return out
}
