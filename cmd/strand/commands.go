package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Threads Commands
// =============================================================================

// buildThreadsCmd creates the "threads" command group.
func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect conversation threads",
	}
	cmd.AddCommand(buildThreadsListCmd(), buildThreadsShowCmd())
	return cmd
}

func buildThreadsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads by most recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsList(cmd, configPath, cmd.Flags().Changed("config"), limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of threads to list")

	return cmd
}

func buildThreadsShowCmd() *cobra.Command {
	var (
		configPath string
		view       string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show a thread's message log",
		Long: `Show the messages of one thread.

The default audit view prints the full append-only log. The model view
prints what the next model call would see: the latest summary followed
by everything after it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsShow(cmd, configPath, cmd.Flags().Changed("config"), args[0], view, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&view, "view", "audit", "View to print: audit or model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")

	return cmd
}

// =============================================================================
// Token Commands
// =============================================================================

// buildTokenCmd creates the "token" command group for API credentials.
func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}
	cmd.AddCommand(buildTokenCreateCmd())
	return cmd
}

func buildTokenCreateCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		name       string
		expiry     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bearer token for the HTTP API",
		Long: `Create a signed JWT for the HTTP API.

The token is signed with the configured auth secret, so auth must be
enabled in the config file. The token prints to stdout.`,
		Example: `  strand token create --subject alice
  strand token create --subject ci --expiry 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(cmd, configPath, cmd.Flags().Changed("config"), subject, name, expiry)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name embedded in the token")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime; overrides the configured expiry")

	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, args[0])
		},
	}
}
