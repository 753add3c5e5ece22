package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the gateway.
// This is the primary command for running strand in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the strand gateway server",
		Long: `Start the strand gateway server.

The server will:
1. Load configuration from the specified file (or strand.yaml)
2. Open the thread store (memory, sqlite, or postgres)
3. Initialize the model provider (Anthropic, OpenAI, or Ollama)
4. Register the builtin tools
5. Serve the HTTP API and the Prometheus metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM signals: active runs are
canceled and waited on before the listeners close.`,
		Example: `  # Start with default config
  strand serve

  # Start with custom config
  strand serve --config /etc/strand/production.yaml

  # Start with debug logging
  strand serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, cmd.Flags().Changed("config"), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
