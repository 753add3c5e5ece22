package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime/parse"
	"github.com/haasonsaas/strand/pkg/models"
)

// Signal classifies what a completed tool execution means for the run.
type Signal string

const (
	// SignalContinue feeds the result back to the model.
	SignalContinue Signal = "continue"

	// SignalUserInput halts the run pending caller input.
	SignalUserInput Signal = "user-input-requested"

	// SignalComplete halts the run as finished.
	SignalComplete Signal = "run-complete"
)

// Outcome pairs a tool result with its run classification.
type Outcome struct {
	Result models.ToolResult

	// Signal is SignalContinue unless a terminal tool succeeded. A
	// failed terminal tool does not halt the run; the model sees the
	// error and gets another turn.
	Signal Signal

	// Failure describes why the result is an error, when it is one.
	Failure *ToolExecutionError

	Duration time.Duration
}

// ExecutorConfig tunes tool execution.
type ExecutorConfig struct {
	// Timeout bounds a single handler call.
	Timeout time.Duration

	// MaxConcurrent bounds parallel executions within one turn. One
	// means strictly sequential.
	MaxConcurrent int

	// Terminal maps tool names to the signal their successful execution
	// raises. Nil gets the ask/complete defaults.
	Terminal map[string]Signal
}

// DefaultTerminal returns the built-in terminal tool designations.
func DefaultTerminal() map[string]Signal {
	return map[string]Signal{
		"ask":      SignalUserInput,
		"complete": SignalComplete,
	}
}

// Executor runs tool invocations. Every failure mode a handler can
// produce lands in the returned outcome as an error result; nothing a
// tool does can take down the run.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	sem      chan struct{}
	terminal map[string]Signal
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewExecutor returns an executor over the given registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	terminal := cfg.Terminal
	if terminal == nil {
		terminal = DefaultTerminal()
	}
	return &Executor{
		registry: registry,
		timeout:  cfg.Timeout,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		terminal: terminal,
		logger:   logger,
		metrics:  metrics,
	}
}

// ExecuteAll runs a turn's invocations and returns outcomes in invocation
// order regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, invs []parse.Invocation) []Outcome {
	if len(invs) == 0 {
		return nil
	}
	outcomes := make([]Outcome, len(invs))
	if cap(e.sem) <= 1 || len(invs) == 1 {
		for i, inv := range invs {
			outcomes[i] = e.Execute(ctx, inv)
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(idx int, in parse.Invocation) {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			outcomes[idx] = e.Execute(ctx, in)
		}(i, inv)
	}
	wg.Wait()
	return outcomes
}

// Execute runs one invocation end to end: resolve, validate, invoke,
// classify.
func (e *Executor) Execute(ctx context.Context, inv parse.Invocation) Outcome {
	start := time.Now()

	if inv.ParseErr != nil {
		return e.failure(ctx, inv, start, FailureParse, inv.ParseErr)
	}

	reg, err := e.registry.lookup(inv.Name)
	if err != nil {
		return e.failure(ctx, inv, start, FailureUnknownTool, err)
	}
	if !reg.schema.SupportsSurface(inv.Surface) {
		return e.failure(ctx, inv, start, FailureSurface,
			fmt.Errorf("tool %q does not accept %s invocations", inv.Name, inv.Surface))
	}
	if reg.compiled != nil {
		var doc any
		if err := json.Unmarshal(inv.Input, &doc); err != nil {
			return e.failure(ctx, inv, start, FailureInput, fmt.Errorf("decode input: %w", err))
		}
		if err := reg.compiled.Validate(doc); err != nil {
			return e.failure(ctx, inv, start, FailureInput, err)
		}
	}

	content, reason, err := e.invoke(ctx, reg.handler, inv)
	if err != nil {
		return e.failure(ctx, inv, start, reason, err)
	}
	duration := time.Since(start)

	outcome := Outcome{
		Result: models.ToolResult{
			ToolCallID: inv.ID,
			Content:    content,
		},
		Signal:   SignalContinue,
		Duration: duration,
	}
	if sig, ok := e.terminal[inv.Name]; ok {
		outcome.Signal = sig
	}

	if e.metrics != nil {
		e.metrics.RecordToolExecution(inv.Name, "ok", duration.Seconds())
	}
	if e.logger != nil {
		e.logger.Debug(ctx, "tool executed",
			"tool", inv.Name,
			"tool_call_id", inv.ID,
			"duration_ms", duration.Milliseconds(),
			"signal", string(outcome.Signal),
		)
	}
	return outcome
}

// invoke runs the handler with a deadline and panic recovery.
func (e *Executor) invoke(ctx context.Context, handler Handler, inv parse.Invocation) (string, ToolFailureReason, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		content string
		err     error
		reason  ToolFailureReason
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{
					reason: FailurePanic,
					err:    fmt.Errorf("tool panicked: %v\n%s", r, debug.Stack()),
				}
			}
		}()
		content, err := handler(execCtx, inv.Input)
		ch <- result{content: content, err: err, reason: FailureExecution}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.reason, res.err
		}
		return res.content, "", nil
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", FailureTimeout, fmt.Errorf("tool %q timed out after %s", inv.Name, e.timeout)
		}
		return "", FailureExecution, execCtx.Err()
	}
}

// failure builds an error outcome. The message lands in the result
// content so the model can see what went wrong and adjust.
func (e *Executor) failure(ctx context.Context, inv parse.Invocation, start time.Time, reason ToolFailureReason, cause error) Outcome {
	duration := time.Since(start)
	execErr := &ToolExecutionError{
		Tool:       inv.Name,
		ToolCallID: inv.ID,
		Reason:     reason,
		Err:        cause,
	}

	if e.metrics != nil {
		e.metrics.RecordToolExecution(inv.Name, string(reason), duration.Seconds())
	}
	if e.logger != nil {
		e.logger.Warn(ctx, "tool execution failed",
			"tool", inv.Name,
			"tool_call_id", inv.ID,
			"reason", string(reason),
			"error", cause.Error(),
		)
	}

	return Outcome{
		Result: models.ToolResult{
			ToolCallID: inv.ID,
			Content:    execErr.Error(),
			IsError:    true,
		},
		Signal:   SignalContinue,
		Failure:  execErr,
		Duration: duration,
	}
}
