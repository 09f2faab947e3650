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
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch refreshes the registry whenever a file under any of dirs changes.
// It blocks until ctx is cancelled or the underlying watcher fails, and is
// meant to be run in its own goroutine alongside AutoLoad-based plug-in
// discovery.
func (r *Registry) Watch(ctx context.Context, dirs []string, patterns []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("registry watch: could not watch directory", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("registry watch: change detected", "path", event.Name, "op", event.Op.String())
			if _, err := r.Refresh(patterns); err != nil {
				r.logger.Warn("registry watch: refresh failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watch: watcher error", "error", err)
		}
	}
}
