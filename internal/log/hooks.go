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

package log

import (
	"context"
	"log/slog"

	"github.com/stepflow/orchestrator/pkg/orchestrator/hooks"
)

// AttachHooks subscribes a structured-logging handler to the flow
// lifecycle events, so every run emits a consistent log trail without the
// engine knowing about logging at all.
func AttachHooks(bus *hooks.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	log := func(level slog.Level, msg string) hooks.Handler {
		return func(ctx context.Context, event string, data hooks.Payload) error {
			attrs := make([]any, 0, 2*len(data)+2)
			attrs = append(attrs, EventKey, event)
			for k, v := range data {
				attrs = append(attrs, k, v)
			}
			logger.Log(ctx, level, msg, attrs...)
			return nil
		}
	}

	bus.On(hooks.EventBeforeFlow, log(slog.LevelInfo, "flow started"))
	bus.On(hooks.EventAfterFlow, log(slog.LevelInfo, "flow finished"))
	bus.On(hooks.EventAfterNode, log(slog.LevelDebug, "node finished"))
	bus.On(hooks.EventCacheHit, log(slog.LevelDebug, "cache hit"))
	bus.On(hooks.EventFailure, log(slog.LevelError, "node failed"))
}
