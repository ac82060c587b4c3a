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

	"github.com/tombee/dirigent/internal/registry"
)

// newServersCommand creates the 'servers' command group.
func newServersCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage the tool server catalog",
		Long: `Manage the tool server catalog.

Commands:
  list      List registered servers (default)
  add       Register a server
  remove    Remove a server
  enable    Enable a disabled server
  disable   Disable a server without removing it
  logs      Show a running server's captured stderr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersList(flags)
		},
	}

	cmd.AddCommand(newServersListCommand(flags))
	cmd.AddCommand(newServersAddCommand(flags))
	cmd.AddCommand(newServersRemoveCommand(flags))
	cmd.AddCommand(newServersEnableCommand(flags, true))
	cmd.AddCommand(newServersEnableCommand(flags, false))
	cmd.AddCommand(newServersLogsCommand(flags))

	return cmd
}

func newServersListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServersList(flags)
		},
	}
}

func runServersList(flags *globalFlags) error {
	rt, err := newRuntime(flags)
	if err != nil {
		return err
	}

	descriptors := rt.registry.List()

	if flags.jsonOutput {
		type entry struct {
			Name      string        `json:"name"`
			Kind      registry.Kind `json:"kind"`
			Command   string        `json:"command"`
			Args      []string      `json:"args,omitempty"`
			Enabled   bool          `json:"enabled"`
			Transport string        `json:"transport"`
		}
		out := make([]entry, 0, len(descriptors))
		for _, d := range descriptors {
			out = append(out, entry{
				Name:      d.Name,
				Kind:      d.Kind,
				Command:   d.Command,
				Args:      d.Args,
				Enabled:   d.IsEnabled(),
				Transport: string(d.Transport),
			})
		}
		data, err := json.MarshalIndent(map[string]any{"servers": out}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(descriptors) == 0 {
		fmt.Println("No tool servers registered.")
		fmt.Println("\nTo add a server:")
		fmt.Println("  dirigent servers add <name> --command <cmd> --kind <kind>")
		return nil
	}

	fmt.Printf("%-20s %-14s %-9s %s\n", "NAME", "KIND", "ENABLED", "COMMAND")
	fmt.Println(strings.Repeat("-", 70))
	for _, d := range descriptors {
		command := d.Command
		if len(d.Args) > 0 {
			command += " " + strings.Join(d.Args, " ")
		}
		fmt.Printf("%-20s %-14s %-9t %s\n", d.Name, d.Kind, d.IsEnabled(), command)
	}
	return nil
}

func newServersAddCommand(flags *globalFlags) *cobra.Command {
	var (
		command   string
		cmdArgs   []string
		kind      string
		env       []string
		timeout   int
		transport string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a server",
		Example: `  # Register the directory graph server
  dirigent servers add graph --kind graph-query --command python --arg -m --arg graph_server

  # Register a fetcher with a secret from the environment
  dirigent servers add web --kind fetch --command npx --arg -y --arg fetch-server \
    --env 'API_TOKEN=${FETCH_API_TOKEN}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}

			name := args[0]
			envMap := make(map[string]string, len(env))
			for _, kv := range env {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q: must be KEY=VALUE", kv)
				}
				envMap[k] = v
			}

			d := &registry.Descriptor{
				Name:        name,
				Kind:        registry.Kind(kind),
				Transport:   registry.TransportKind(transport),
				Command:     command,
				Args:        cmdArgs,
				Env:         envMap,
				CallTimeout: timeout,
			}
			if err := d.Validate(); err != nil {
				return err
			}

			rt.config.Servers[name] = d
			if err := rt.saveConfig(); err != nil {
				return err
			}
			fmt.Printf("Registered server %q\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Executable to run (required)")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "Command argument (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", string(registry.KindGenericStdio), "Server kind: fetch, graph-query, docs, generic-stdio")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment variable KEY=VALUE (repeatable, supports ${VAR})")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Per-call timeout in seconds (0 = default)")
	cmd.Flags().StringVar(&transport, "transport", string(registry.TransportStdio), "Transport: stdio or http")
	_ = cmd.MarkFlagRequired("command")

	return cmd
}

func newServersRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}

			name := args[0]
			if _, ok := rt.config.Servers[name]; !ok {
				return fmt.Errorf("unknown server %q", name)
			}
			delete(rt.config.Servers, name)
			if err := rt.saveConfig(); err != nil {
				return err
			}
			fmt.Printf("Removed server %q\n", name)
			return nil
		},
	}
}

func newServersEnableCommand(flags *globalFlags, enable bool) *cobra.Command {
	use, short := "enable <name>", "Enable a disabled server"
	if !enable {
		use, short = "disable <name>", "Disable a server without removing it"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}

			name := args[0]
			d, ok := rt.config.Servers[name]
			if !ok {
				return fmt.Errorf("unknown server %q", name)
			}
			d.Enabled = &enable
			if err := rt.saveConfig(); err != nil {
				return err
			}
			if enable {
				fmt.Printf("Enabled server %q\n", name)
			} else {
				fmt.Printf("Disabled server %q\n", name)
			}
			return nil
		},
	}
}

func newServersLogsCommand(flags *globalFlags) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show a running server's captured stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			entries := rt.invoker.Logs(args[0], tail)
			if len(entries) == 0 {
				fmt.Printf("No captured output for server %q (is it running in this session?)\n", args[0])
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.Timestamp.Format("15:04:05.000"), e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 0, "Show only the last N lines (0 = all retained)")
	return cmd
}
