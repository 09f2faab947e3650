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

// Package engines implements the engines command: list every registered
// method implementation, grouped by component.
package engines

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/stepflow/orchestrator/internal/commands/shared"
)

type enginesResponse struct {
	shared.JSONResponse
	Components map[string][]methodInfo `json:"components"`
}

type methodInfo struct {
	Method      string `json:"method"`
	Engine      string `json:"engine"`
	Version     string `json:"version"`
	Priority    int    `json:"priority"`
	Deprecated  bool   `json:"deprecated,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewCommand creates the engines command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List registered methods per component",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := shared.NewEnv()
			if err != nil {
				return err
			}

			byComponent := make(map[string][]methodInfo)
			components := env.Registry.Components()
			sort.Strings(components)
			for _, c := range components {
				for _, reg := range env.Registry.ByComponent(c) {
					byComponent[c] = append(byComponent[c], methodInfo{
						Method:      reg.Method,
						Engine:      reg.Engine,
						Version:     reg.Version,
						Priority:    reg.Priority,
						Deprecated:  reg.Deprecated,
						Description: reg.Description,
					})
				}
				sort.Slice(byComponent[c], func(i, j int) bool {
					a, b := byComponent[c][i], byComponent[c][j]
					if a.Method != b.Method {
						return a.Method < b.Method
					}
					return a.Engine < b.Engine
				})
			}

			if shared.GetJSON() {
				return shared.EmitJSON(enginesResponse{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "engines", Success: true},
					Components:   byComponent,
				})
			}

			for _, c := range components {
				cmd.Printf("%s\n", c)
				for _, m := range byComponent[c] {
					line := "  " + m.Method + "@" + m.Engine
					if m.Version != "" {
						line += " v" + m.Version
					}
					if m.Deprecated {
						line += " (deprecated)"
					}
					cmd.Println(line)
				}
			}
			return nil
		},
	}
	return cmd
}
