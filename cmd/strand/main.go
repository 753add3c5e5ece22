// Package main provides the CLI entry point for the strand agent runtime.
//
// Strand executes agent runs against a durable thread log: each run streams
// a model completion, executes the tools the model invokes, persists every
// turn, and loops until the model finishes or asks the user a question.
//
// # Basic Usage
//
// Start the server:
//
//	strand serve --config strand.yaml
//
// Execute a one-shot run from the terminal:
//
//	strand run "summarize the files in this repo"
//
// Inspect threads:
//
//	strand threads list
//	strand threads show <thread-id>
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key, used when the config omits one
//   - OPENAI_API_KEY: OpenAI API key, used when the config omits one
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - agent run engine over durable threads",
		Long: `Strand drives tool-using agent runs against append-only conversation threads.

Supported model providers: Anthropic (Claude), OpenAI (GPT), Ollama
Built-in tools: ask, complete, list_files, read_file, current_time

A run streams the model's answer, executes requested tools, persists every
turn to the thread log, and repeats until the model completes or asks for
user input.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildThreadsCmd(),
		buildTokenCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "strand %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
			return nil
		},
	}
}
