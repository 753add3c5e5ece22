package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

// runOneShot executes one run and streams it to the terminal.
func runOneShot(cmd *cobra.Command, configPath string, explicitConfig bool, threadID, message string, maxIterations int) error {
	cfg, err := loadConfig(configPath, explicitConfig)
	if err != nil {
		return err
	}

	st, err := buildStack(cfg, false)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if threadID == "" {
		thread := models.NewThread(threadTitle(message))
		if err := st.store.CreateThread(ctx, thread); err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		threadID = thread.ID
		fmt.Fprintf(errOut, "thread: %s\n", threadID)
	}

	_, events, err := st.manager.StartRun(ctx, threadID, runtime.RunOptions{
		UserMessage:   message,
		MaxIterations: maxIterations,
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	var halt *runtime.Halt
	for event := range events {
		switch {
		case event.Halt != nil:
			halt = event.Halt
		case event.Tool != nil:
			line := fmt.Sprintf("[tool %s %s]", event.Tool.Name, event.Tool.Stage)
			if event.Tool.Error != "" {
				line += " " + event.Tool.Error
			}
			fmt.Fprintln(errOut, line)
		default:
			fmt.Fprint(out, event.TextDelta)
		}
	}
	fmt.Fprintln(out)

	if halt == nil {
		return fmt.Errorf("run ended without a halt event")
	}
	switch halt.Reason {
	case runtime.HaltRunComplete:
		return nil
	case runtime.HaltUserInput:
		printPendingQuestion(errOut, st, threadID)
		fmt.Fprintf(errOut, "reply with: strand run --thread %s \"<answer>\"\n", threadID)
		return nil
	case runtime.HaltMaxIterations:
		return fmt.Errorf("run stopped after %d iterations without finishing", halt.Iterations)
	case runtime.HaltCanceled:
		return fmt.Errorf("run canceled")
	default:
		return fmt.Errorf("run failed: %s", halt.Error)
	}
}

// printPendingQuestion surfaces the question the agent asked before it
// paused for user input.
func printPendingQuestion(errOut io.Writer, st *stack, threadID string) {
	msgs, err := st.store.Read(context.Background(), threadID, 0)
	if err != nil {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Kind == models.KindToolResult && len(msg.ToolResults) > 0 && !msg.ToolResults[0].IsError {
			fmt.Fprintf(errOut, "\nagent asks: %s\n", msg.Content)
			return
		}
	}
}

// threadTitle derives a short thread title from the first message.
func threadTitle(message string) string {
	const max = 64
	title := message
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > max {
		title = title[:max-3] + "..."
	}
	return title
}
