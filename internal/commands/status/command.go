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

// Package status implements the status command: registry and component
// counts for the loaded plug-ins.
package status

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/commands/shared"
)

// statusResponse is the JSON shape for --json output.
type statusResponse struct {
	shared.JSONResponse
	Components    []componentStatus `json:"components"`
	Registrations int               `json:"registrations"`
}

type componentStatus struct {
	Name          string `json:"name"`
	Registrations int    `json:"registrations"`
}

// NewCommand creates the status command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry and component counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}

			components := env.Registry.Components()
			sort.Strings(components)

			total := 0
			stats := make([]componentStatus, 0, len(components))
			for _, c := range components {
				n := len(env.Registry.ByComponent(c))
				total += n
				stats = append(stats, componentStatus{Name: c, Registrations: n})
			}

			if shared.GetJSON() {
				return shared.EmitJSON(statusResponse{
					JSONResponse:  shared.JSONResponse{Version: "1.0", Command: "status", Success: true},
					Components:    stats,
					Registrations: total,
				})
			}

			cmd.Printf("components: %d  registrations: %d\n", len(stats), total)
			for _, s := range stats {
				cmd.Printf("  %-24s %d\n", s.Name, s.Registrations)
			}
			return nil
		},
	}
	return cmd
}
