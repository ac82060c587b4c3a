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

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newToolsCommand creates the 'tools' command.
func newToolsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools <server>",
		Short: "List the tools a server advertises",
		Example: `  # List the graph server's tools
  dirigent tools graph

  # As JSON for scripting
  dirigent tools graph --json | jq -r '.tools[].name'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			tools, err := rt.invoker.ListTools(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				data, err := json.MarshalIndent(map[string]any{"tools": tools}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(tools) == 0 {
				fmt.Printf("Server %q advertises no tools.\n", args[0])
				return nil
			}
			for _, tool := range tools {
				if tool.Description != "" {
					fmt.Printf("%-24s %s\n", tool.Name, tool.Description)
				} else {
					fmt.Println(tool.Name)
				}
			}
			return nil
		},
	}
}
