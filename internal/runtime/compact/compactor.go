// Package compact keeps long threads inside the model context window by
// summarizing the visible history into a rolling summary message. The
// raw messages stay in the log for audit; reads that honor the summary
// marker see the summary in their place.
package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/pkg/models"
)

// summaryInstruction is the fixed system prompt for summary calls.
const summaryInstruction = `Summarize the conversation so far into a self-contained briefing for an assistant that will continue it. Preserve: decisions made and why, tasks completed, tasks still open, important facts and constraints, and the current state of any work in progress. Write plain prose. Do not address the user.`

// Compactor watches a thread's estimated token footprint and folds the
// visible history into a summary when it crosses the configured budget.
type Compactor struct {
	store  threads.Store
	client runtime.Client
	cfg    config.CompactionConfig
	model  string

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New builds a compactor. The client is used for non-streaming summary
// calls against the given model.
func New(store threads.Store, client runtime.Client, cfg config.CompactionConfig, model string, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Compactor {
	return &Compactor{
		store:   store,
		client:  client,
		cfg:     cfg,
		model:   model,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// EnsureWithinBudget compacts the thread if its model window exceeds the
// token threshold. It reports whether a summary was appended. Calling it
// again right after a compaction is a no-op: the fresh summary resets the
// window below the minimum message gate.
func (c *Compactor) EnsureWithinBudget(ctx context.Context, threadID string) (bool, error) {
	log, err := c.store.Read(ctx, threadID, 0)
	if err != nil {
		return false, err
	}
	window := threads.ModelWindow(log)
	if len(window) < c.cfg.MinMessages {
		return false, nil
	}
	estimate := EstimateTokens(window)
	if estimate < c.cfg.TokenThreshold {
		return false, nil
	}

	if c.tracer != nil {
		tctx, span := c.tracer.TraceCompaction(ctx, threadID)
		ctx = tctx
		defer span.End()
	}
	if c.logger != nil {
		c.logger.Info(ctx, "compacting thread",
			"thread_id", threadID,
			"estimated_tokens", estimate,
			"window_messages", len(window),
		)
	}

	summary, err := c.summarize(ctx, window)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCompaction("error")
		}
		return false, fmt.Errorf("summarize thread %s: %w", threadID, err)
	}
	summary = Truncate(summary, c.cfg.SummaryMaxTokens)

	msg := models.NewMessage(threadID, models.KindSummary, summary)
	if _, err := c.store.Append(ctx, threadID, msg); err != nil {
		if c.metrics != nil {
			c.metrics.RecordCompaction("error")
		}
		return false, err
	}

	if c.metrics != nil {
		c.metrics.RecordCompaction("ok")
	}
	if c.logger != nil {
		c.logger.Info(ctx, "thread compacted",
			"thread_id", threadID,
			"summary_chars", len(summary),
		)
	}
	return true, nil
}

// summarize issues the non-streaming summary call. The window includes
// any prior summary, so successive summaries stay self-contained.
func (c *Compactor) summarize(ctx context.Context, window []*models.Message) (string, error) {
	prompt := models.NewMessage("", models.KindUser, Transcript(window))
	req := &runtime.Request{
		Model:     c.model,
		System:    summaryInstruction,
		Messages:  []*models.Message{prompt},
		MaxTokens: c.cfg.SummaryMaxTokens,
	}
	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return text, nil
}

// Transcript renders a message window as plain text for the summary
// request. A prior summary leads the transcript so the new one subsumes
// it.
func Transcript(msgs []*models.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Kind {
		case models.KindSummary:
			fmt.Fprintf(&b, "[prior summary]\n%s\n\n", msg.Content)
		case models.KindToolResult:
			for _, result := range msg.ToolResults {
				status := "ok"
				if result.IsError {
					status = "error"
				}
				fmt.Fprintf(&b, "tool result (%s): %s\n", status, result.Content)
			}
		default:
			if msg.Content != "" {
				fmt.Fprintf(&b, "%s: %s\n", msg.Kind, msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(&b, "%s invoked %s(%s)\n", msg.Kind, call.Name, call.Input)
			}
		}
	}
	return b.String()
}
