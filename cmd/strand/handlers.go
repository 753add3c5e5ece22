package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/strand/internal/auth"
	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/pkg/models"
)

// =============================================================================
// Threads Handlers
// =============================================================================

func runThreadsList(cmd *cobra.Command, configPath string, explicit bool, limit int) error {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	store, err := threads.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer store.Close()

	list, err := store.ListThreads(cmd.Context(), threads.ListOptions{Limit: limit})
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No threads found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, thread := range list {
		title := thread.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", thread.ID, title, thread.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runThreadsShow(cmd *cobra.Command, configPath string, explicit bool, threadID, view string, asJSON bool) error {
	if view != "audit" && view != "model" {
		return fmt.Errorf("view must be audit or model, got %q", view)
	}

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	store, err := threads.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer store.Close()

	thread, err := store.GetThread(cmd.Context(), threadID)
	if err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			return fmt.Errorf("thread %s not found", threadID)
		}
		return fmt.Errorf("get thread: %w", err)
	}

	msgs, err := store.Read(cmd.Context(), threadID, 0)
	if err != nil {
		return fmt.Errorf("read thread: %w", err)
	}
	if view == "model" {
		msgs = threads.ModelWindow(msgs)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}

	fmt.Fprintf(out, "Thread: %s\n", thread.ID)
	if thread.Title != "" {
		fmt.Fprintf(out, "Title: %s\n", thread.Title)
	}
	fmt.Fprintf(out, "Updated: %s\n", thread.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Messages: %d (%s view)\n\n", len(msgs), view)
	for _, msg := range msgs {
		fmt.Fprintln(out, formatMessageLine(msg))
	}
	return nil
}

// formatMessageLine renders one message as a single log line: sequence,
// kind, the first line of content, and any tool call names.
func formatMessageLine(msg *models.Message) string {
	content := msg.Content
	if idx := strings.IndexAny(content, "\r\n"); idx >= 0 {
		content = content[:idx]
	}
	if runes := []rune(content); len(runes) > 96 {
		content = string(runes[:93]) + "..."
	}
	line := fmt.Sprintf("%4d  %-11s %s", msg.Seq, msg.Kind, content)
	if len(msg.ToolCalls) > 0 {
		names := make([]string, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			names[i] = call.Name
		}
		line += fmt.Sprintf(" [tools: %s]", strings.Join(names, ", "))
	}
	return line
}

// =============================================================================
// Token Handlers
// =============================================================================

func runTokenCreate(cmd *cobra.Command, configPath string, explicit bool, subject, name string, expiry time.Duration) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("subject is required")
	}

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled || strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth is disabled; set auth.enabled and auth.jwt_secret in the config file")
	}
	if expiry <= 0 {
		expiry = cfg.Auth.TokenExpiry
	}

	token, err := auth.NewService(cfg.Auth.JWTSecret, expiry).Issue(subject, name)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// =============================================================================
// Config Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

func runConfigValidate(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (database=%s, provider=%s)\n", path, cfg.Database.Driver, cfg.Model.Provider)
	return nil
}
