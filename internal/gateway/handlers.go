package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/pkg/models"
)

// maxBodyBytes bounds request bodies. Thread titles and user messages
// fit comfortably; anything larger is a client bug.
const maxBodyBytes = 1 << 20

type createThreadRequest struct {
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

type threadListResponse struct {
	Threads []*models.Thread `json:"threads"`
	HasMore bool             `json:"has_more"`
}

type appendMessageRequest struct {
	Content string `json:"content"`
}

type messageListResponse struct {
	Messages []*models.Message `json:"messages"`
	View     string            `json:"view"`
}

// handleThreads routes the thread collection: POST creates, GET lists.
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createThread(w, r)
	case http.MethodGet:
		s.listThreads(w, r)
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleThread routes thread-scoped calls: the thread itself, its
// message log, and runs on it.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
	parts := strings.Split(path, "/")
	threadID := parts[0]
	if threadID == "" {
		s.jsonError(w, "thread ID required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getThread(w, r, threadID)
	case len(parts) == 2 && parts[1] == "messages":
		switch r.Method {
		case http.MethodGet:
			s.listMessages(w, r, threadID)
		case http.MethodPost:
			s.appendMessage(w, r, threadID)
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "runs":
		switch r.Method {
		case http.MethodPost:
			s.startRun(w, r, threadID)
		case http.MethodGet:
			s.activeRun(w, r, threadID)
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

// handleRun routes run-scoped calls by run ID.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		s.jsonError(w, "run ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, ok := s.manager.Get(runID)
		if !ok {
			s.jsonError(w, "run not found", http.StatusNotFound)
			return
		}
		s.jsonResponse(w, http.StatusOK, run)
	case http.MethodDelete:
		if err := s.manager.Cancel(runID); err != nil {
			if errors.Is(err, runtime.ErrRunNotFound) {
				s.jsonError(w, "run not found", http.StatusNotFound)
				return
			}
			s.serverError(w, r, "cancel run", err)
			return
		}
		s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "canceling"})
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	thread := models.NewThread(req.Title)
	thread.Metadata = req.Metadata
	if err := s.store.CreateThread(r.Context(), thread); err != nil {
		s.serverError(w, r, "create thread", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, thread)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := parseIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	list, err := s.store.ListThreads(r.Context(), threads.ListOptions{
		Limit:  limit + 1,
		Offset: offset,
	})
	if err != nil {
		s.serverError(w, r, "list threads", err)
		return
	}

	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	s.jsonResponse(w, http.StatusOK, threadListResponse{Threads: list, HasMore: hasMore})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request, threadID string) {
	thread, err := s.store.GetThread(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			s.jsonError(w, "thread not found", http.StatusNotFound)
			return
		}
		s.serverError(w, r, "get thread", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, thread)
}

// listMessages returns the thread's log. The default audit view is the
// raw append-only record; view=model projects what the next model call
// would see, with compacted history folded behind its summary.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			s.jsonError(w, "thread not found", http.StatusNotFound)
			return
		}
		s.serverError(w, r, "get thread", err)
		return
	}

	view := r.URL.Query().Get("view")
	if view == "" {
		view = "audit"
	}
	since := int64(parseIntParam(r, "since", 0))
	if since < 0 {
		since = 0
	}

	msgs, err := s.store.Read(r.Context(), threadID, since)
	if err != nil {
		s.serverError(w, r, "read messages", err)
		return
	}

	switch view {
	case "audit":
	case "model":
		msgs = threads.ModelWindow(msgs)
	default:
		s.jsonError(w, "view must be audit or model", http.StatusBadRequest)
		return
	}

	s.jsonResponse(w, http.StatusOK, messageListResponse{Messages: msgs, View: view})
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request, threadID string) {
	var req appendMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.jsonError(w, "content is required", http.StatusBadRequest)
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

	msg := models.NewMessage(threadID, models.KindUser, req.Content)
	if _, err := s.store.Append(r.Context(), threadID, msg); err != nil {
		s.serverError(w, r, "append message", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, msg)
}

func (s *Server) activeRun(w http.ResponseWriter, r *http.Request, threadID string) {
	run, ok := s.manager.Active(threadID)
	if !ok {
		s.jsonError(w, "no active run", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// decodeBody reads a JSON request body into dst. It writes the error
// response itself and reports whether decoding succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && s.logger != nil {
		s.logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serverError logs a handler failure and answers 500 without leaking
// internals to the client.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if s.logger != nil {
		s.logger.Error(r.Context(), op+" failed", "error", err, "path", r.URL.Path)
	}
	if s.metrics != nil {
		s.metrics.RecordError("gateway", op)
	}
	s.jsonError(w, op+" failed", http.StatusInternalServerError)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
