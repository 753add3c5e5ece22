package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryEventStore(t *testing.T) {
	store := NewMemoryEventStore(100)

	t.Run("record assigns ID and timestamp", func(t *testing.T) {
		event := &Event{
			Type:     EventTypeRunStart,
			RunID:    "run-1",
			ThreadID: "thread-1",
			Name:     "test_event",
		}

		err := store.Record(event)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if event.ID == "" {
			t.Error("expected ID to be generated")
		}
		if event.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	})

	t.Run("nil event rejected", func(t *testing.T) {
		if err := store.Record(nil); err == nil {
			t.Error("expected error for nil event")
		}
	})

	t.Run("by run", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			store.Record(&Event{
				Type:  EventTypeToolStart,
				RunID: "run-query-test",
				Name:  "event",
			})
		}

		events, err := store.ByRun("run-query-test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 5 {
			t.Errorf("expected 5 events, got %d", len(events))
		}
	})

	t.Run("by run sorted by timestamp", func(t *testing.T) {
		base := time.Now()
		store.Record(&Event{Type: EventTypeToolEnd, RunID: "run-sorted", Name: "second", Timestamp: base.Add(time.Second)})
		store.Record(&Event{Type: EventTypeToolStart, RunID: "run-sorted", Name: "first", Timestamp: base})

		events, err := store.ByRun("run-sorted")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].Name != "first" || events[1].Name != "second" {
			t.Errorf("events out of order: %s, %s", events[0].Name, events[1].Name)
		}
	})

	t.Run("recent by type", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			store.Record(&Event{
				Type: EventTypeModelRequest,
				Name: "model",
			})
		}

		events, err := store.Recent(EventTypeModelRequest, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("expected 2 events with limit, got %d", len(events))
		}
	})

	t.Run("unknown run returns empty", func(t *testing.T) {
		events, err := store.ByRun("no-such-run")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("expected 0 events, got %d", len(events))
		}
	})
}

func TestMemoryEventStorePrune(t *testing.T) {
	store := NewMemoryEventStore(100)

	old := &Event{
		Type:      EventTypeToolEnd,
		RunID:     "run-old",
		Name:      "old",
		Timestamp: time.Now().Add(-2 * time.Hour),
	}
	recent := &Event{
		Type:  EventTypeToolEnd,
		RunID: "run-recent",
		Name:  "recent",
	}
	store.Record(old)
	store.Record(recent)

	deleted, err := store.Prune(time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	events, _ := store.ByRun("run-old")
	if len(events) != 0 {
		t.Error("expected old run events to be pruned")
	}
	events, _ = store.ByRun("run-recent")
	if len(events) != 1 {
		t.Error("expected recent run events to survive")
	}
}

func TestMemoryEventStoreEviction(t *testing.T) {
	store := NewMemoryEventStore(10)

	base := time.Now()
	for i := 0; i < 12; i++ {
		store.Record(&Event{
			Type:      EventTypeToolStart,
			RunID:     "run-evict",
			Name:      "event",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	events, _ := store.ByRun("run-evict")
	if len(events) > 11 {
		t.Errorf("expected eviction to bound store, got %d events", len(events))
	}
}

func TestEventRecorder(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	ctx := context.Background()
	ctx = WithRunID(ctx, "run-rec")
	ctx = WithThreadID(ctx, "thread-rec")

	t.Run("record extracts context IDs", func(t *testing.T) {
		if err := recorder.Record(ctx, EventTypeRunStart, "run_start", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events, _ := store.ByRun("run-rec")
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].ThreadID != "thread-rec" {
			t.Errorf("expected thread ID from context, got %q", events[0].ThreadID)
		}
	})

	t.Run("record error attaches error string", func(t *testing.T) {
		err := recorder.RecordError(ctx, EventTypeToolError, "read_file", errors.New("boom"), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events, _ := store.Recent(EventTypeToolError, 1)
		if len(events) != 1 {
			t.Fatalf("expected 1 error event, got %d", len(events))
		}
		if events[0].Error != "boom" {
			t.Errorf("expected error 'boom', got %q", events[0].Error)
		}
	})

	t.Run("transition event", func(t *testing.T) {
		if err := recorder.RecordTransition(ctx, "preparing", "calling"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events, _ := store.Recent(EventTypeTransition, 1)
		if len(events) != 1 {
			t.Fatalf("expected 1 transition event, got %d", len(events))
		}
		if events[0].Name != "preparing->calling" {
			t.Errorf("unexpected transition name: %s", events[0].Name)
		}
	})

	t.Run("tool end with error becomes tool error", func(t *testing.T) {
		if err := recorder.RecordToolEnd(ctx, "list_files", 50*time.Millisecond, errors.New("denied")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events, _ := store.Recent(EventTypeToolError, 5)
		found := false
		for _, e := range events {
			if e.Name == "list_files" {
				found = true
			}
		}
		if !found {
			t.Error("expected tool error event for list_files")
		}
	})

	t.Run("run end", func(t *testing.T) {
		if err := recorder.RecordRunEnd(ctx, time.Second, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		events, _ := store.Recent(EventTypeRunEnd, 1)
		if len(events) != 1 {
			t.Fatalf("expected 1 run end event, got %d", len(events))
		}
	})
}

func TestBuildTimeline(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{Type: EventTypeRunStart, RunID: "run-tl", ThreadID: "thread-tl", Name: "run_start", Timestamp: base},
		{Type: EventTypeModelRequest, RunID: "run-tl", Name: "anthropic", Timestamp: base.Add(10 * time.Millisecond)},
		{Type: EventTypeModelRetry, RunID: "run-tl", Name: "rate_limited", Timestamp: base.Add(20 * time.Millisecond)},
		{Type: EventTypeToolStart, RunID: "run-tl", Name: "list_files", Timestamp: base.Add(30 * time.Millisecond)},
		{Type: EventTypeToolError, RunID: "run-tl", Name: "list_files", Error: "denied", Timestamp: base.Add(40 * time.Millisecond)},
		{Type: EventTypeRunEnd, RunID: "run-tl", Name: "run_end", Timestamp: base.Add(50 * time.Millisecond)},
	}

	timeline := BuildTimeline(events)

	if timeline.RunID != "run-tl" {
		t.Errorf("expected run ID 'run-tl', got %s", timeline.RunID)
	}
	if timeline.ThreadID != "thread-tl" {
		t.Errorf("expected thread ID 'thread-tl', got %s", timeline.ThreadID)
	}
	if timeline.Summary.TotalEvents != 6 {
		t.Errorf("expected 6 events, got %d", timeline.Summary.TotalEvents)
	}
	if timeline.Summary.ToolCalls != 1 {
		t.Errorf("expected 1 tool call, got %d", timeline.Summary.ToolCalls)
	}
	if timeline.Summary.ModelCalls != 1 {
		t.Errorf("expected 1 model call, got %d", timeline.Summary.ModelCalls)
	}
	if timeline.Summary.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", timeline.Summary.Retries)
	}
	if timeline.Summary.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", timeline.Summary.ErrorCount)
	}
	if timeline.Duration != 50*time.Millisecond {
		t.Errorf("expected 50ms duration, got %v", timeline.Duration)
	}
}

func TestBuildTimelineEmpty(t *testing.T) {
	timeline := BuildTimeline(nil)
	if timeline.Summary.TotalEvents != 0 {
		t.Error("expected empty timeline")
	}
}

func TestFormatTimeline(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{Type: EventTypeRunStart, RunID: "run-fmt", Name: "run_start", Timestamp: base},
		{Type: EventTypeToolError, RunID: "run-fmt", Name: "read_file", Error: "not found", Timestamp: base.Add(time.Millisecond)},
	}

	out := FormatTimeline(BuildTimeline(events))

	if !strings.Contains(out, "run-fmt") {
		t.Error("expected run ID in formatted output")
	}
	if !strings.Contains(out, "read_file") {
		t.Error("expected tool name in formatted output")
	}
	if !strings.Contains(out, "not found") {
		t.Error("expected error detail in formatted output")
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	if got := FormatTimeline(nil); got != "No events found" {
		t.Errorf("unexpected output for nil timeline: %q", got)
	}
	if got := FormatTimeline(&Timeline{}); got != "No events found" {
		t.Errorf("unexpected output for empty timeline: %q", got)
	}
}
