package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/threads"
)

type startRunRequest struct {
	// Message, when non-empty, is appended to the thread as the user turn
	// before the run starts.
	Message string `json:"message"`

	// MaxIterations overrides the configured cap for this run when positive.
	MaxIterations int `json:"max_iterations"`
}

// startRun starts a run on the thread and streams its events as SSE.
// The stream opens with a run event carrying the run ID, then relays
// text_delta, tool_status, and halt events until the run settles. The
// run is bound to the request context, so a client hangup cancels it.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, threadID string) {
	var req startRunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			s.jsonError(w, "thread not found", http.StatusNotFound)
			return
		}
		s.serverError(w, r, "get thread", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	run, events, err := s.manager.StartRun(r.Context(), threadID, runtime.RunOptions{
		UserMessage:   req.Message,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		switch {
		case errors.Is(err, runtime.ErrRunActive):
			s.jsonError(w, "run already active for thread", http.StatusConflict)
		case errors.Is(err, runtime.ErrTooManyRuns):
			s.jsonError(w, "too many active runs", http.StatusTooManyRequests)
		default:
			s.serverError(w, r, "start run", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.writeEvent(w, flusher, "run", run)
	for event := range events {
		s.writeEvent(w, flusher, eventName(event), event)
	}
}

// eventName classifies a run event for the SSE event field.
func eventName(event runtime.RunEvent) string {
	switch {
	case event.Halt != nil:
		return "halt"
	case event.Tool != nil:
		return "tool_status"
	default:
		return "text_delta"
	}
}

func (s *Server) writeEvent(w io.Writer, flusher http.Flusher, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(context.Background(), "sse marshal error", "error", err, "event", name)
		}
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	flusher.Flush()
}
