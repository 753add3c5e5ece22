package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/pkg/models"
)

// runEventBuffer absorbs bursts so the loop rarely blocks on a slow
// consumer. The halt event always fits.
const runEventBuffer = 64

// Run is a handle on an in-flight run.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
	done   chan struct{}
}

// Done returns a channel that closes when the run has fully settled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// UserMessage, when non-empty, is appended to the thread before the
	// first iteration.
	UserMessage string

	// MaxIterations overrides the configured cap when positive.
	MaxIterations int
}

// Manager starts, tracks, and cancels runs. It enforces one active run
// per thread and a global concurrency bound across threads.
type Manager struct {
	loop *Loop

	mu       sync.Mutex
	byID     map[string]*Run
	byThread map[string]string
	slots    chan struct{}

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewManager wraps a loop with run bookkeeping. maxConcurrent bounds
// simultaneously active runs.
func NewManager(loop *Loop, maxConcurrent int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		loop:     loop,
		byID:     make(map[string]*Run),
		byThread: make(map[string]string),
		slots:    make(chan struct{}, maxConcurrent),
		logger:   loop.logger,
		metrics:  loop.metrics,
	}
}

// StartRun begins a run on a thread and returns its event stream. The
// stream ends with a Halt event and then closes. The run lives until it
// halts or ctx is canceled.
func (m *Manager) StartRun(ctx context.Context, threadID string, opts RunOptions) (*Run, <-chan RunEvent, error) {
	if threadID == "" {
		return nil, nil, fmt.Errorf("thread ID is required")
	}

	if opts.UserMessage != "" {
		msg := models.NewMessage(threadID, models.KindUser, opts.UserMessage)
		if _, err := m.loop.store.Append(ctx, threadID, msg); err != nil {
			return nil, nil, fmt.Errorf("append user message: %w", err)
		}
	}

	m.mu.Lock()
	if _, active := m.byThread[threadID]; active {
		m.mu.Unlock()
		return nil, nil, ErrRunActive
	}
	select {
	case m.slots <- struct{}{}:
	default:
		m.mu.Unlock()
		return nil, nil, ErrTooManyRuns
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.byID[run.ID] = run
	m.byThread[threadID] = run.ID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RunStarted()
	}

	events := make(chan RunEvent, runEventBuffer)
	go func() {
		defer cancel()
		defer close(run.done)
		defer func() {
			m.mu.Lock()
			delete(m.byID, run.ID)
			delete(m.byThread, run.ThreadID)
			m.mu.Unlock()
			<-m.slots
		}()
		defer close(events)
		m.loop.run(runCtx, run.ID, run.ThreadID, opts.MaxIterations, events)
	}()

	return run, events, nil
}

// Cancel stops an active run. The run settles asynchronously; its stream
// ends with a canceled Halt event.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	run, ok := m.byID[runID]
	m.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	run.cancel()
	if m.logger != nil {
		m.logger.Info(context.Background(), "run cancel requested", "run_id", runID)
	}
	return nil
}

// Get returns an active run by ID.
func (m *Manager) Get(runID string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.byID[runID]
	return run, ok
}

// Active returns the active run on a thread, if any.
func (m *Manager) Active(threadID string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runID, ok := m.byThread[threadID]
	if !ok {
		return nil, false
	}
	return m.byID[runID], true
}

// ActiveCount returns how many runs are in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Shutdown cancels every active run and waits for them to settle, up to
// ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	runs := make([]*Run, 0, len(m.byID))
	for _, run := range m.byID {
		runs = append(runs, run)
	}
	m.mu.Unlock()

	for _, run := range runs {
		run.cancel()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
