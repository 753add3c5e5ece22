package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime/parse"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/pkg/models"
)

// LoopConfig wires a run loop.
type LoopConfig struct {
	Client    Client
	Store     threads.Store
	Registry  *Registry
	Executor  *Executor
	Compactor Compactor

	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Recorder *observability.EventRecorder
	Usage    *observability.UsageTracker
}

// Loop is the run state machine. Each iteration prepares a request from
// the thread log, streams the model's turn through the parser, executes
// whatever the model invoked, persists the turn, and decides whether to
// go around again.
type Loop struct {
	client    Client
	store     threads.Store
	registry  *Registry
	executor  *Executor
	compactor Compactor

	model         string
	systemPrompt  string
	maxTokens     int
	maxIterations int

	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder *observability.EventRecorder
	usage    *observability.UsageTracker
}

// NewLoop builds a loop from its wiring.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 16
	}
	return &Loop{
		client:        cfg.Client,
		store:         cfg.Store,
		registry:      cfg.Registry,
		executor:      cfg.Executor,
		compactor:     cfg.Compactor,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		recorder:      cfg.Recorder,
		usage:         cfg.Usage,
	}
}

// turnOutput is what one model call produced after parsing.
type turnOutput struct {
	text         string
	invocations  []parse.Invocation
	inputTokens  int
	outputTokens int
}

// run executes one run to completion. It always finishes the event
// stream with a Halt event; the caller closes the channel afterwards.
func (l *Loop) run(ctx context.Context, runID, threadID string, maxIterations int, events chan<- RunEvent) {
	ctx = observability.WithRunID(ctx, runID)
	ctx = observability.WithThreadID(ctx, threadID)
	if l.tracer != nil {
		tctx, span := l.tracer.TraceRun(ctx, runID, threadID)
		ctx = tctx
		defer span.End()
	}
	if maxIterations < 1 {
		maxIterations = l.maxIterations
	}

	started := time.Now()
	iteration := 0
	phase := PhasePreparing

	halt := func(reason HaltReason, cause error) {
		h := &Halt{Reason: reason, Iterations: iteration}
		if cause != nil {
			h.Error = cause.Error()
		}
		select {
		case events <- RunEvent{Halt: h}:
		default:
			// The caller stopped reading; the closed channel is its
			// signal.
		}
		if l.metrics != nil {
			l.metrics.RunEnded(string(reason), time.Since(started).Seconds(), iteration)
		}
		if l.recorder != nil {
			_ = l.recorder.RecordRunEnd(ctx, time.Since(started), cause)
		}
		if l.logger != nil {
			if cause != nil {
				l.logger.Error(ctx, "run halted", "reason", string(reason), "iterations", iteration, "error", cause.Error())
			} else {
				l.logger.Info(ctx, "run halted", "reason", string(reason), "iterations", iteration)
			}
		}
	}
	fail := func(err error) {
		halt(HaltFailed, &RunError{RunID: runID, Phase: phase, Iteration: iteration, Err: err})
	}

	if l.recorder != nil {
		_ = l.recorder.RecordRunStart(ctx, map[string]any{"run_id": runID, "thread_id": threadID})
	}
	if l.logger != nil {
		l.logger.Info(ctx, "run started", "model", l.model, "max_iterations", maxIterations)
	}

	for {
		if err := l.advance(ctx, &phase, PhasePreparing, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		window, err := l.window(ctx, threadID)
		if err != nil {
			fail(err)
			return
		}

		if err := l.advance(ctx, &phase, PhaseCompacting, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		if l.compactor != nil {
			compacted, err := l.compactor.EnsureWithinBudget(ctx, threadID)
			if err != nil {
				var perr *threads.PersistenceError
				if errors.As(err, &perr) {
					fail(err)
					return
				}
				// A failed summary call leaves the raw window usable;
				// skip compaction for this turn.
				if l.logger != nil {
					l.logger.Warn(ctx, "compaction skipped", "error", err.Error())
				}
			} else if compacted {
				window, err = l.window(ctx, threadID)
				if err != nil {
					fail(err)
					return
				}
			}
		}

		if err := l.advance(ctx, &phase, PhaseCalling, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		req := &Request{
			Model:     l.model,
			System:    l.buildSystem(),
			Messages:  window,
			Tools:     l.registry.Schemas(),
			MaxTokens: l.maxTokens,
		}
		stream, err := l.client.Stream(ctx, req)
		if err != nil {
			fail(err)
			return
		}

		if err := l.advance(ctx, &phase, PhaseParsing, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		turn, err := l.consume(ctx, stream, events)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				halt(HaltCanceled, nil)
				return
			}
			fail(err)
			return
		}
		if ctx.Err() != nil {
			halt(HaltCanceled, nil)
			return
		}
		if l.usage != nil && (turn.inputTokens > 0 || turn.outputTokens > 0) {
			l.usage.Record(l.client.Name()+"/"+l.model, threadID, int64(turn.inputTokens), int64(turn.outputTokens))
		}

		if err := l.advance(ctx, &phase, PhaseExecuting, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		var outcomes []Outcome
		if len(turn.invocations) > 0 {
			for _, inv := range turn.invocations {
				l.emit(ctx, events, RunEvent{Tool: &ToolStatus{
					ToolCallID: inv.ID,
					Name:       inv.Name,
					Stage:      ToolStarted,
				}})
			}
			outcomes = l.executor.ExecuteAll(ctx, turn.invocations)
			for i, outcome := range outcomes {
				status := &ToolStatus{
					ToolCallID: outcome.Result.ToolCallID,
					Name:       turn.invocations[i].Name,
					Stage:      ToolCompleted,
				}
				if outcome.Result.IsError {
					status.Stage = ToolFailed
					if outcome.Failure != nil {
						status.Error = outcome.Failure.Error()
					}
				}
				l.emit(ctx, events, RunEvent{Tool: status})

				result := models.NewToolResultMessage(threadID, outcome.Result)
				if _, err := l.store.Append(ctx, threadID, result); err != nil {
					fail(err)
					return
				}
			}
		}

		if err := l.advance(ctx, &phase, PhasePersisting, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		if turn.text != "" || len(turn.invocations) > 0 {
			assistant := models.NewMessage(threadID, models.KindAssistant, turn.text)
			assistant.ToolCalls = toolCalls(turn.invocations)
			if _, err := l.store.Append(ctx, threadID, assistant); err != nil {
				fail(err)
				return
			}
		}

		if err := l.advance(ctx, &phase, PhaseDeciding, iteration); err != nil {
			halt(HaltCanceled, nil)
			return
		}
		iteration++

		signal := SignalContinue
		for _, outcome := range outcomes {
			if outcome.Signal != SignalContinue {
				signal = outcome.Signal
				break
			}
		}
		switch {
		case signal == SignalComplete:
			phase = PhaseHalted
			halt(HaltRunComplete, nil)
			return
		case signal == SignalUserInput:
			phase = PhaseHalted
			halt(HaltUserInput, nil)
			return
		case len(turn.invocations) == 0:
			// A plain text answer ends the conversation turn.
			phase = PhaseHalted
			halt(HaltRunComplete, nil)
			return
		case iteration >= maxIterations:
			phase = PhaseHalted
			halt(HaltMaxIterations, nil)
			return
		}
	}
}

// consume drains one model stream through a fresh parser, forwarding text
// deltas to the caller and collecting completed invocations in emission
// order.
func (l *Loop) consume(ctx context.Context, stream <-chan models.Fragment, events chan<- RunEvent) (*turnOutput, error) {
	parser := parse.New()
	turn := &turnOutput{}
	var text strings.Builder
	var streamErr error

	handle := func(evs []parse.Event) {
		for _, ev := range evs {
			switch {
			case ev.Text != "":
				text.WriteString(ev.Text)
				l.emit(ctx, events, RunEvent{TextDelta: ev.Text})
			case ev.Invocation != nil:
				turn.invocations = append(turn.invocations, *ev.Invocation)
			}
		}
	}

	for frag := range stream {
		if frag.Err != nil {
			streamErr = frag.Err
			continue
		}
		if frag.Restart {
			// The retry layer started the attempt over. Forget
			// everything from the aborted one, including any tag
			// capture the parser was holding.
			parser = parse.New()
			text.Reset()
			turn.invocations = turn.invocations[:0]
			turn.inputTokens, turn.outputTokens = 0, 0
			if l.metrics != nil {
				l.metrics.RecordError("runtime", "stream_restart")
			}
			continue
		}
		if frag.Done {
			turn.inputTokens = frag.InputTokens
			turn.outputTokens = frag.OutputTokens
		}
		handle(parser.Feed(frag))
	}
	if streamErr != nil {
		return nil, streamErr
	}
	handle(parser.Close())

	if deg := parser.Degraded(); deg > 0 && l.metrics != nil {
		for i := 0; i < deg; i++ {
			l.metrics.RecordParseDegradation()
		}
	}

	turn.text = text.String()
	return turn, nil
}

// window reads the thread log and trims it to the model-visible suffix.
func (l *Loop) window(ctx context.Context, threadID string) ([]*models.Message, error) {
	log, err := l.store.Read(ctx, threadID, 0)
	if err != nil {
		return nil, err
	}
	return threads.ModelWindow(log), nil
}

// buildSystem composes the request system prompt. When any registered
// tool accepts tagged invocations, the inline wire format is described so
// the model knows how to write one. The preamble is per-request and never
// persisted.
func (l *Loop) buildSystem() string {
	var tagged []string
	for _, schema := range l.registry.Schemas() {
		if schema.SupportsSurface(models.SurfaceTagged) {
			tagged = append(tagged, schema.Name)
		}
	}
	if len(tagged) == 0 {
		return l.systemPrompt
	}
	var b strings.Builder
	b.WriteString(l.systemPrompt)
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "You may invoke tools inline by writing <tool name=\"NAME\">{\"arg\": \"value\"}</tool> in your reply. Inline-capable tools: %s.", strings.Join(tagged, ", "))
	return b.String()
}

// advance moves to the next phase, honoring cancellation at every
// transition.
func (l *Loop) advance(ctx context.Context, phase *Phase, next Phase, iteration int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.recorder != nil && *phase != next {
		_ = l.recorder.RecordTransition(ctx, string(*phase), string(next))
	}
	*phase = next
	if l.logger != nil {
		l.logger.Debug(ctx, "phase", "phase", string(next), "iteration", iteration)
	}
	return nil
}

// emit forwards an event unless the run is being torn down.
func (l *Loop) emit(ctx context.Context, events chan<- RunEvent, ev RunEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func toolCalls(invs []parse.Invocation) []models.ToolCall {
	if len(invs) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(invs))
	for _, inv := range invs {
		calls = append(calls, models.ToolCall{
			ID:      inv.ID,
			Name:    inv.Name,
			Input:   inv.Input,
			Surface: inv.Surface,
		})
	}
	return calls
}
