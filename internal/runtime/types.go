// Package runtime drives agent runs: it assembles model requests from the
// thread log, streams completions through the parser, executes the tools
// the model invokes, persists the turn, and decides whether to loop again
// or halt.
package runtime

import (
	"context"

	"github.com/haasonsaas/strand/pkg/models"
)

// Client is the model transport the run loop drives. Implementations live
// in runtime/providers; the loop only sees this interface so retry
// wrapping and provider choice stay a wiring concern.
type Client interface {
	// Stream issues a streaming completion request. The returned channel
	// is closed when the stream ends; a stream-level failure arrives as
	// a fragment with Err set, after which no more fragments follow.
	Stream(ctx context.Context, req *Request) (<-chan models.Fragment, error)

	// Complete issues a request and blocks for the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider, e.g. "anthropic".
	Name() string
}

// Request is a provider-neutral completion request.
type Request struct {
	Model     string
	System    string
	Messages  []*models.Message
	Tools     []models.ToolSchema
	MaxTokens int
}

// Response is a fully buffered completion.
type Response struct {
	Text         string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// Compactor keeps a thread's model window within the token budget. The
// loop calls it before every model request; implementations live in
// runtime/compact.
type Compactor interface {
	// EnsureWithinBudget compacts the thread if its window exceeds the
	// budget. It reports whether a summary was appended.
	EnsureWithinBudget(ctx context.Context, threadID string) (bool, error)
}

// HaltReason explains why a run stopped.
type HaltReason string

const (
	// HaltRunComplete means the model finished: it produced a plain
	// response or invoked a completing terminal tool.
	HaltRunComplete HaltReason = "run-complete"

	// HaltUserInput means a terminal tool asked the caller a question;
	// the run resumes when a new user message arrives.
	HaltUserInput HaltReason = "user-input-requested"

	// HaltMaxIterations means the iteration cap was reached.
	HaltMaxIterations HaltReason = "max-iterations"

	// HaltCanceled means the run context was canceled.
	HaltCanceled HaltReason = "canceled"

	// HaltFailed means an unrecoverable error stopped the run.
	HaltFailed HaltReason = "failed"
)

// RunEvent is one item on a run's event stream. Exactly one field is set.
type RunEvent struct {
	// TextDelta is a chunk of assistant text, forwarded as it streams.
	TextDelta string `json:"text_delta,omitempty"`

	// Tool reports a tool execution stage.
	Tool *ToolStatus `json:"tool,omitempty"`

	// Halt is the final event on every stream.
	Halt *Halt `json:"halt,omitempty"`
}

// ToolStage is a tool execution lifecycle stage.
type ToolStage string

const (
	ToolStarted   ToolStage = "started"
	ToolCompleted ToolStage = "completed"
	ToolFailed    ToolStage = "failed"
)

// ToolStatus reports progress of one tool invocation.
type ToolStatus struct {
	ToolCallID string    `json:"tool_call_id"`
	Name       string    `json:"name"`
	Stage      ToolStage `json:"stage"`

	// Error is set on the failed stage.
	Error string `json:"error,omitempty"`
}

// Halt is the terminal event of a run stream.
type Halt struct {
	Reason HaltReason `json:"reason"`

	// Iterations is the number of model calls the run made.
	Iterations int `json:"iterations"`

	// Error describes the failure when Reason is HaltFailed.
	Error string `json:"error,omitempty"`
}
