package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/strand/internal/auth"
	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/pkg/models"
)

// stubClient plays back scripted fragment turns. When block is set,
// Stream waits for it to close (or the context to end) before emitting,
// which lets tests hold a run open.
type stubClient struct {
	mu    sync.Mutex
	turns [][]models.Fragment
	calls int
	block chan struct{}
}

func (c *stubClient) Name() string { return "stub" }

func (c *stubClient) Stream(ctx context.Context, req *runtime.Request) (<-chan models.Fragment, error) {
	c.mu.Lock()
	var frags []models.Fragment
	if c.calls < len(c.turns) {
		frags = c.turns[c.calls]
	}
	c.calls++
	block := c.block
	c.mu.Unlock()

	out := make(chan models.Fragment, len(frags)+1)
	go func() {
		defer close(out)
		if block != nil {
			select {
			case <-ctx.Done():
				return
			case <-block:
			}
		}
		for _, frag := range frags {
			select {
			case out <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *stubClient) Complete(ctx context.Context, req *runtime.Request) (*runtime.Response, error) {
	return &runtime.Response{Text: "summary"}, nil
}

func textTurn(text string) []models.Fragment {
	return []models.Fragment{
		{Text: text},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

// newTestServer assembles a full stack around the stub client: memory
// store, empty registry, loop, manager, and the HTTP handler under an
// httptest server.
func newTestServer(t *testing.T, client runtime.Client, authService *auth.Service) (*httptest.Server, threads.Store) {
	t.Helper()

	store := threads.NewMemoryStore()
	registry := runtime.NewRegistry()
	executor := runtime.NewExecutor(registry, runtime.ExecutorConfig{
		Timeout:       5 * time.Second,
		MaxConcurrent: 1,
	}, nil, nil)
	loop := runtime.NewLoop(runtime.LoopConfig{
		Client:        client,
		Store:         store,
		Registry:      registry,
		Executor:      executor,
		Model:         "stub-model",
		MaxIterations: 4,
	})
	manager := runtime.NewManager(loop, 4)

	srv := New(config.Default(), store, manager, authService, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createTestThread(t *testing.T, baseURL, title string) *models.Thread {
	t.Helper()
	resp := postJSON(t, baseURL+"/v1/threads", map[string]string{"title": title})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create thread status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var thread models.Thread
	decodeInto(t, resp, &thread)
	if thread.ID == "" {
		t.Fatal("created thread has no ID")
	}
	return &thread
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestCreateAndGetThread(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	thread := createTestThread(t, ts.URL, "support case")
	if thread.Title != "support case" {
		t.Errorf("title = %q, want %q", thread.Title, "support case")
	}

	resp, err := http.Get(ts.URL + "/v1/threads/" + thread.ID)
	if err != nil {
		t.Fatalf("GET thread: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get thread status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got models.Thread
	decodeInto(t, resp, &got)
	if got.ID != thread.ID {
		t.Errorf("ID = %q, want %q", got.ID, thread.ID)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	resp, err := http.Get(ts.URL + "/v1/threads/nope")
	if err != nil {
		t.Fatalf("GET thread: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestListThreads(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	createTestThread(t, ts.URL, "first")
	createTestThread(t, ts.URL, "second")

	resp, err := http.Get(ts.URL + "/v1/threads")
	if err != nil {
		t.Fatalf("GET threads: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var list threadListResponse
	decodeInto(t, resp, &list)
	if len(list.Threads) != 2 {
		t.Fatalf("threads = %d, want 2", len(list.Threads))
	}
	if list.HasMore {
		t.Error("HasMore = true, want false")
	}
}

func TestListThreadsPagination(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	for i := 0; i < 3; i++ {
		createTestThread(t, ts.URL, fmt.Sprintf("thread %d", i))
	}

	resp, err := http.Get(ts.URL + "/v1/threads?limit=2")
	if err != nil {
		t.Fatalf("GET threads: %v", err)
	}
	var list threadListResponse
	decodeInto(t, resp, &list)
	if len(list.Threads) != 2 {
		t.Errorf("threads = %d, want 2", len(list.Threads))
	}
	if !list.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestAppendMessage(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)
	thread := createTestThread(t, ts.URL, "")

	resp := postJSON(t, ts.URL+"/v1/threads/"+thread.ID+"/messages", map[string]string{"content": "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var msg models.Message
	decodeInto(t, resp, &msg)
	if msg.Kind != models.KindUser {
		t.Errorf("kind = %q, want %q", msg.Kind, models.KindUser)
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q, want %q", msg.Content, "hello")
	}
}

func TestAppendMessageValidation(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)
	thread := createTestThread(t, ts.URL, "")

	resp := postJSON(t, ts.URL+"/v1/threads/"+thread.ID+"/messages", map[string]string{"content": "  "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank content status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = postJSON(t, ts.URL+"/v1/threads/missing/messages", map[string]string{"content": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown thread status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestListMessagesViews(t *testing.T) {
	ts, store := newTestServer(t, &stubClient{}, nil)
	thread := createTestThread(t, ts.URL, "")

	ctx := context.Background()
	seed := []*models.Message{
		models.NewMessage(thread.ID, models.KindUser, "old question"),
		models.NewMessage(thread.ID, models.KindSummary, "conversation so far"),
		models.NewMessage(thread.ID, models.KindUser, "new question"),
	}
	for _, msg := range seed {
		if _, err := store.Append(ctx, thread.ID, msg); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/threads/" + thread.ID + "/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var audit messageListResponse
	decodeInto(t, resp, &audit)
	if audit.View != "audit" {
		t.Errorf("default view = %q, want audit", audit.View)
	}
	if len(audit.Messages) != 3 {
		t.Fatalf("audit messages = %d, want 3", len(audit.Messages))
	}

	resp, err = http.Get(ts.URL + "/v1/threads/" + thread.ID + "/messages?view=model")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var model messageListResponse
	decodeInto(t, resp, &model)
	if len(model.Messages) != 2 {
		t.Fatalf("model messages = %d, want 2", len(model.Messages))
	}
	if model.Messages[0].Kind != models.KindSummary {
		t.Errorf("model view starts with %q, want summary", model.Messages[0].Kind)
	}
	if model.Messages[1].Content != "new question" {
		t.Errorf("model view tail = %q, want %q", model.Messages[1].Content, "new question")
	}

	resp, err = http.Get(ts.URL + "/v1/threads/" + thread.ID + "/messages?view=banana")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad view status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestListMessagesSince(t *testing.T) {
	ts, store := newTestServer(t, &stubClient{}, nil)
	thread := createTestThread(t, ts.URL, "")

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		if _, err := store.Append(ctx, thread.ID, models.NewMessage(thread.ID, models.KindUser, content)); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/threads/" + thread.ID + "/messages?since=2")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var list messageListResponse
	decodeInto(t, resp, &list)
	if len(list.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(list.Messages))
	}
	if list.Messages[0].Seq != 2 {
		t.Errorf("first seq = %d, want 2 (since is inclusive)", list.Messages[0].Seq)
	}
}

func TestRejectsUnknownBodyFields(t *testing.T) {
	ts, _ := newTestServer(t, &stubClient{}, nil)

	resp := postJSON(t, ts.URL+"/v1/threads", map[string]string{"titel": "typo"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	service := auth.NewService("gateway-test-secret", time.Hour)
	ts, _ := newTestServer(t, &stubClient{}, service)

	resp, err := http.Get(ts.URL + "/v1/threads")
	if err != nil {
		t.Fatalf("GET threads: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	token, err := service.Issue("user-1", "Test User")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/threads", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Health stays open for probes.
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
