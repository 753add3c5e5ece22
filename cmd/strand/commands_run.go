package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command that executes one run from the
// terminal, without a server.
func buildRunCmd() *cobra.Command {
	var (
		configPath    string
		threadID      string
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Execute a single agent run and stream the answer",
		Long: `Execute one agent run directly against the configured model provider.

The message becomes the user turn; the assistant's answer streams to
stdout while tool activity is reported on stderr. Without --thread a new
thread is created, and its ID is printed so the conversation can be
continued later.`,
		Example: `  # Run in a fresh thread
  strand run "list the Go files in this repo"

  # Continue an existing thread
  strand run --thread 4f9d12c0 "now summarize the largest one"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("a message is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return fmt.Errorf("a message is required")
			}
			return runOneShot(cmd, configPath, cmd.Flags().Changed("config"), threadID, message, maxIterations)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&threadID, "thread", "",
		"Continue an existing thread instead of creating one")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0,
		"Override the configured iteration cap for this run")

	return cmd
}
