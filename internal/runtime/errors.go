package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for run management.
var (
	// ErrRunActive is returned when a thread already has a run in flight.
	ErrRunActive = errors.New("run already active for thread")

	// ErrRunNotFound is returned when a run ID does not match an active run.
	ErrRunNotFound = errors.New("run not found")

	// ErrTooManyRuns is returned when the manager is at its concurrency limit.
	ErrTooManyRuns = errors.New("too many active runs")
)

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when no tool is registered under a name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ToolFailureReason classifies why a tool execution failed.
type ToolFailureReason string

const (
	// FailureParse means the invocation arrived malformed from the stream.
	FailureParse ToolFailureReason = "parse"

	// FailureUnknownTool means no handler is registered under the name.
	FailureUnknownTool ToolFailureReason = "unknown_tool"

	// FailureSurface means the tool rejects the invocation surface.
	FailureSurface ToolFailureReason = "surface"

	// FailureInput means the argument document failed schema validation.
	FailureInput ToolFailureReason = "invalid_input"

	// FailureTimeout means the handler exceeded the execution deadline.
	FailureTimeout ToolFailureReason = "timeout"

	// FailurePanic means the handler panicked and was recovered.
	FailurePanic ToolFailureReason = "panic"

	// FailureExecution means the handler returned an error.
	FailureExecution ToolFailureReason = "execution"
)

// ToolExecutionError describes a failed tool execution. It is written into
// the tool result and logged; it never aborts a run.
type ToolExecutionError struct {
	Tool       string
	ToolCallID string
	Reason     ToolFailureReason
	Err        error
}

func (e *ToolExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %q failed (%s): %v", e.Tool, e.Reason, e.Err)
	}
	return fmt.Sprintf("tool %q failed (%s)", e.Tool, e.Reason)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// Phase identifies a stage of the run loop.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseCompacting Phase = "compacting"
	PhaseCalling    Phase = "calling"
	PhaseParsing    Phase = "parsing"
	PhaseExecuting  Phase = "executing"
	PhasePersisting Phase = "persisting"
	PhaseDeciding   Phase = "deciding"
	PhaseHalted     Phase = "halted"
)

// RunError wraps a failure with the loop position where it occurred.
type RunError struct {
	RunID     string
	Phase     Phase
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s (iteration %d): %v", e.RunID, e.Phase, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
