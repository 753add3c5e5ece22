package observability

import (
	"sync"
	"testing"
)

func TestUsageTrackerTotal(t *testing.T) {
	tracker := NewUsageTracker()

	tracker.Record("anthropic/claude-sonnet-4-5", "thread-1", 100, 50)
	tracker.Record("anthropic/claude-sonnet-4-5", "thread-1", 200, 75)
	tracker.Record("openai/gpt-4o", "thread-2", 10, 5)

	total := tracker.Total()
	if total.InputTokens != 310 {
		t.Errorf("expected 310 input tokens, got %d", total.InputTokens)
	}
	if total.OutputTokens != 130 {
		t.Errorf("expected 130 output tokens, got %d", total.OutputTokens)
	}
	if total.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", total.Requests)
	}
}

func TestUsageTrackerByModel(t *testing.T) {
	tracker := NewUsageTracker()

	tracker.Record("openai/gpt-4o", "thread-1", 10, 5)
	tracker.Record("anthropic/claude-sonnet-4-5", "thread-1", 100, 50)
	tracker.Record("anthropic/claude-sonnet-4-5", "thread-2", 100, 50)

	rows := tracker.ByModel()
	if len(rows) != 2 {
		t.Fatalf("expected 2 models, got %d", len(rows))
	}

	// Sorted by model name
	if rows[0].Model != "anthropic/claude-sonnet-4-5" {
		t.Errorf("expected anthropic model first, got %s", rows[0].Model)
	}
	if rows[0].Usage.Requests != 2 {
		t.Errorf("expected 2 requests for anthropic model, got %d", rows[0].Usage.Requests)
	}
	if rows[1].Usage.InputTokens != 10 {
		t.Errorf("expected 10 input tokens for openai model, got %d", rows[1].Usage.InputTokens)
	}
}

func TestUsageTrackerThreadUsage(t *testing.T) {
	tracker := NewUsageTracker()

	tracker.Record("anthropic/claude-sonnet-4-5", "thread-1", 100, 50)
	tracker.Record("anthropic/claude-sonnet-4-5", "thread-1", 50, 25)

	u := tracker.ThreadUsage("thread-1")
	if u.InputTokens != 150 || u.OutputTokens != 75 {
		t.Errorf("unexpected thread usage: %+v", u)
	}

	empty := tracker.ThreadUsage("no-such-thread")
	if empty.Requests != 0 {
		t.Errorf("expected zero usage for unknown thread, got %+v", empty)
	}
}

func TestUsageTrackerConcurrent(t *testing.T) {
	tracker := NewUsageTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.Record("anthropic/claude-sonnet-4-5", "thread-c", 1, 1)
			}
		}()
	}
	wg.Wait()

	total := tracker.Total()
	if total.Requests != 1000 {
		t.Errorf("expected 1000 requests, got %d", total.Requests)
	}
}
