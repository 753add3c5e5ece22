package observability

import (
	"sort"
	"sync"
)

// Usage accumulates token counts for a scope (model, thread, or total).
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Requests     int64 `json:"requests"`
}

// Add merges another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Requests += other.Requests
}

// UsageTracker accumulates token usage across runs, broken down by model
// and by thread. It backs the /api/usage endpoint and the usage CLI
// command; Prometheus counters cover the same data for scraping, this
// tracker serves point-in-time queries.
type UsageTracker struct {
	mu       sync.RWMutex
	total    Usage
	byModel  map[string]*Usage
	byThread map[string]*Usage
}

// NewUsageTracker creates an empty usage tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		byModel:  make(map[string]*Usage),
		byThread: make(map[string]*Usage),
	}
}

// Record adds one request's token usage. Model is the provider-qualified
// model name (e.g. "anthropic/claude-sonnet-4-5").
func (t *UsageTracker) Record(model, threadID string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := Usage{InputTokens: inputTokens, OutputTokens: outputTokens, Requests: 1}
	t.total.Add(u)

	if model != "" {
		if _, ok := t.byModel[model]; !ok {
			t.byModel[model] = &Usage{}
		}
		t.byModel[model].Add(u)
	}
	if threadID != "" {
		if _, ok := t.byThread[threadID]; !ok {
			t.byThread[threadID] = &Usage{}
		}
		t.byThread[threadID].Add(u)
	}
}

// Total returns the aggregate usage across all models and threads.
func (t *UsageTracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// ModelUsage is a per-model usage row.
type ModelUsage struct {
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// ByModel returns per-model usage sorted by model name.
func (t *UsageTracker) ByModel() []ModelUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make([]ModelUsage, 0, len(t.byModel))
	for model, u := range t.byModel {
		rows = append(rows, ModelUsage{Model: model, Usage: *u})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Model < rows[j].Model })
	return rows
}

// ThreadUsage returns the accumulated usage for one thread.
func (t *UsageTracker) ThreadUsage(threadID string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if u, ok := t.byThread[threadID]; ok {
		return *u
	}
	return Usage{}
}
