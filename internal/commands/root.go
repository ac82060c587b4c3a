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

// Package commands implements the dirigent CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/dirigent/internal/assistant"
	"github.com/tombee/dirigent/internal/classify"
	"github.com/tombee/dirigent/internal/invoker"
	"github.com/tombee/dirigent/internal/llm"
	"github.com/tombee/dirigent/internal/log"
	"github.com/tombee/dirigent/internal/registry"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	jsonOutput bool
	noLLM      bool
}

// NewRootCommand builds the dirigent command tree.
func NewRootCommand(version string) *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:     "dirigent",
		Short:   "Directory assistant tool orchestrator",
		Version: version,
		Long: `Dirigent routes natural-language queries to out-of-process tool
servers: a directory graph server, a documentation search server, and a
generic web fetcher. Servers are spawned on demand, spoken to over
newline-framed JSON-RPC on stdio, and supervised until shutdown.

Commands:
  ask       Answer a query by routing it to the right tool server
  servers   Manage the tool server catalog
  tools     List the tools a server advertises
  call      Invoke a tool directly
  resource  List or read a server's resources
  serve     Run the assistant as a long-lived service`,
		SilenceUsage: true,
	}

	addGlobalFlags(cmd.PersistentFlags(), flags)

	cmd.AddCommand(newAskCommand(flags))
	cmd.AddCommand(newServersCommand(flags))
	cmd.AddCommand(newToolsCommand(flags))
	cmd.AddCommand(newCallCommand(flags))
	cmd.AddCommand(newResourceCommand(flags))
	cmd.AddCommand(newServeCommand(flags))

	return cmd
}

// addGlobalFlags registers the flags shared by every subcommand.
func addGlobalFlags(fs *pflag.FlagSet, flags *globalFlags) {
	fs.StringVar(&flags.configPath, "config", "", "Path to the server catalog (default: ~/.config/dirigent/servers.yaml)")
	fs.BoolVar(&flags.jsonOutput, "json", false, "Emit machine-readable JSON output")
	fs.BoolVar(&flags.noLLM, "no-llm", false, "Disable LLM query refinement even when OPENAI_API_KEY is set")
}

// runtime is the wired application: catalog, invoker, and assistant.
type runtime struct {
	configPath string
	config     *registry.Config
	registry   *registry.Registry
	invoker    *invoker.Invoker
	assistant  *assistant.Assistant
	logger     *slog.Logger
}

// newRuntime loads the catalog and wires the component graph.
func newRuntime(flags *globalFlags) (*runtime, error) {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	configPath := flags.configPath
	if configPath == "" {
		var err error
		configPath, err = registry.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := registry.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := registry.New(log.WithComponent(logger, "registry"))
	if err := reg.Replace(cfg.Descriptors()); err != nil {
		return nil, err
	}

	inv := invoker.New(reg, log.WithComponent(logger, "invoker"))

	var provider llm.Provider
	if !flags.noLLM && os.Getenv("OPENAI_API_KEY") != "" {
		p, err := llm.NewOpenAI(llm.OpenAIConfig{Logger: logger})
		if err != nil {
			logger.Warn("llm refinement disabled", "error", err)
		} else {
			provider = p
		}
	}
	classifyLogger := log.WithComponent(logger, "classify")
	refiner := classify.NewRefiner(classify.New(reg, classifyLogger), provider, classifyLogger)

	return &runtime{
		configPath: configPath,
		config:     cfg,
		registry:   reg,
		invoker:    inv,
		assistant:  assistant.New(refiner, inv, log.WithComponent(logger, "assistant")),
		logger:     logger,
	}, nil
}

// close stops every running tool server.
func (rt *runtime) close(cmd *cobra.Command) {
	rt.invoker.StopAll(cmd.Context())
}

// saveConfig persists catalog mutations.
func (rt *runtime) saveConfig() error {
	if err := rt.config.Save(rt.configPath); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}
