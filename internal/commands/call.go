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

// newCallCommand creates the 'call' command for direct tool invocation,
// bypassing classification.
func newCallCommand(flags *globalFlags) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Invoke a tool directly",
		Example: `  # Call the graph server's query tool
  dirigent call graph query --args '{"endpoint":"/users/{id}","method":"GET"}'

  # Call with no arguments
  dirigent call web fetch`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("invalid --args: %w", err)
				}
			}

			result, err := rt.invoker.CallTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}

			fmt.Println(result.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	return cmd
}
