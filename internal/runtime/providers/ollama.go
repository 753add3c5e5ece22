package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 2 * time.Minute
)

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	// BaseURL of the Ollama server. Defaults to http://localhost:11434.
	BaseURL string

	// DefaultModel is used when the request does not name one. Ollama has
	// no sensible universal default, so a model must come from one place
	// or the other.
	DefaultModel string

	// Timeout bounds a single request. Local models can be slow to load,
	// so the default is generous.
	Timeout time.Duration
}

// OllamaProvider implements runtime.Client against Ollama's /api/chat
// endpoint. Responses stream as NDJSON, one JSON object per line.
// Ollama emits tool calls whole rather than as argument deltas, and may
// repeat a call object across lines, so the pump dedupes before
// emitting a single already-complete invocation delta per call.
type OllamaProvider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ runtime.Client = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	return &OllamaProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string {
	return "ollama"
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error,omitempty"`
	PromptEvalCount int               `json:"prompt_eval_count,omitempty"`
	EvalCount       int               `json:"eval_count,omitempty"`
}

// Complete issues a blocking, non-streaming request.
func (p *OllamaProvider) Complete(ctx context.Context, req *runtime.Request) (*runtime.Response, error) {
	model := p.model(req.Model)
	body, err := p.do(ctx, req, model, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaChatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, NewModelError("ollama", model, fmt.Errorf("decoding response: %w", err))
	}
	if resp.Error != "" {
		return nil, NewModelError("ollama", model, errors.New(resp.Error))
	}

	out := &runtime.Response{
		Text:         resp.Message.Content,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	for _, call := range resp.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		input := call.Function.Arguments
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:      id,
			Name:    call.Function.Name,
			Input:   input,
			Surface: models.SurfaceStructured,
		})
	}
	return out, nil
}

// Stream issues a streaming request.
func (p *OllamaProvider) Stream(ctx context.Context, req *runtime.Request) (<-chan models.Fragment, error) {
	model := p.model(req.Model)
	body, err := p.do(ctx, req, model, true)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Fragment)
	go p.pump(ctx, body, out, model)
	return out, nil
}

// pump scans NDJSON lines from the response body into fragments.
func (p *OllamaProvider) pump(ctx context.Context, body io.ReadCloser, out chan<- models.Fragment, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	emitted := make(map[string]bool)
	var inputTokens, outputTokens int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp ollamaChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			send(ctx, out, models.Fragment{Err: NewModelError("ollama", model, fmt.Errorf("decoding stream line: %w", err))})
			return
		}
		if resp.Error != "" {
			send(ctx, out, models.Fragment{Err: NewModelError("ollama", model, errors.New(resp.Error))})
			return
		}

		if resp.Message.Content != "" {
			if !send(ctx, out, models.Fragment{Text: resp.Message.Content}) {
				return
			}
		}

		for _, call := range resp.Message.ToolCalls {
			key := toolCallKey(call)
			if emitted[key] {
				continue
			}
			emitted[key] = true

			id := call.ID
			if id == "" {
				id = uuid.NewString()
			}
			args := string(call.Function.Arguments)
			if args == "" {
				args = "{}"
			}
			// Ollama delivers calls whole, so a single delta carries the
			// name, the full argument document, and the completion mark.
			if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
				ID:        id,
				Name:      call.Function.Name,
				ArgsDelta: args,
				Complete:  true,
			}}) {
				return
			}
		}

		if resp.Done {
			inputTokens = resp.PromptEvalCount
			outputTokens = resp.EvalCount
			break
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, out, models.Fragment{Err: NewModelError("ollama", model, err)})
		return
	}
	send(ctx, out, models.Fragment{
		Done:         true,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// toolCallKey identifies a streamed call for dedupe purposes. Ollama does
// not always assign IDs, so fall back to name plus arguments.
func toolCallKey(call ollamaToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	if call.Function.Name != "" {
		return call.Function.Name + ":" + string(call.Function.Arguments)
	}
	return uuid.NewString()
}

// do builds and issues the HTTP request, returning the response body on
// a 2xx status.
func (p *OllamaProvider) do(ctx context.Context, req *runtime.Request, model string, stream bool) (io.ReadCloser, error) {
	if model == "" {
		return nil, NewModelError("ollama", model, errors.New("no model configured"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: buildOllamaMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if len(req.Tools) > 0 {
		payload.Tools = convertOpenAITools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewModelError("ollama", model, fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewModelError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewModelError("ollama", model, err)
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, NewModelError("ollama", model, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))).
			WithStatus(resp.StatusCode)
	}
	return resp.Body, nil
}

// buildOllamaMessages maps the canonical window onto Ollama chat
// messages. Tool results become "tool" role messages; Ollama correlates
// them by tool name rather than call ID.
func buildOllamaMessages(messages []*models.Message, system string) []ollamaChatMessage {
	names := callNames(messages)

	result := make([]ollamaChatMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, ollamaChatMessage{Role: "system", Content: system})
	}

	for _, wm := range canonicalMessages(messages) {
		if wm.role == roleAssistant {
			msg := ollamaChatMessage{Role: roleAssistant, Content: wm.content}
			for _, call := range wm.calls {
				args := call.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
					ID:   call.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, msg)
			continue
		}

		for _, res := range wm.results {
			result = append(result, ollamaChatMessage{
				Role:     "tool",
				Content:  toolResultContent(res),
				ToolName: names[res.ToolCallID],
			})
		}
		if wm.content != "" {
			result = append(result, ollamaChatMessage{Role: roleUser, Content: wm.content})
		}
	}
	return result
}

func (p *OllamaProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}
