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
	"strings"

	"github.com/spf13/cobra"
)

// newAskCommand creates the 'ask' command.
func newAskCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a query by routing it to the right tool server",
		Example: `  # Documentation question
  dirigent ask "how do I authenticate against the directory API?"

  # Directory graph query
  dirigent ask "GET /users/{id}/memberOf"

  # Generic retrieval
  dirigent ask "what's the weather in Berlin?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			query := strings.Join(args, " ")
			answer, err := rt.assistant.Ask(cmd.Context(), query)
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				out := map[string]any{
					"query_id":   answer.QueryID,
					"server":     answer.Classification.TargetServer,
					"tool":       answer.Classification.TargetTool,
					"confidence": answer.Classification.Confidence,
					"result":     answer.Result.String(),
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Println(answer.Result.String())
			return nil
		},
	}
}
