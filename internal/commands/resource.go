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

// newResourceCommand creates the 'resource' command group.
func newResourceCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "List or read a server's resources",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <server>",
		Short: "List the resources a server advertises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			resources, err := rt.invoker.ListResources(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				data, err := json.MarshalIndent(map[string]any{"resources": resources}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(resources) == 0 {
				fmt.Printf("Server %q advertises no resources.\n", args[0])
				return nil
			}
			for _, r := range resources {
				if r.Description != "" {
					fmt.Printf("%-40s %s\n", r.URI, r.Description)
				} else {
					fmt.Println(r.URI)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "read <server> <uri>",
		Short: "Read a resource by URI",
		Example: `  dirigent resource read handbook docs://auth/getting-started`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			result, err := rt.invoker.ReadResource(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(result.String())
			return nil
		},
	})

	return cmd
}
