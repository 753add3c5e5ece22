// Package providers implements the model transports behind
// runtime.Client, plus the retry wrapper the run loop actually talks to.
//
// Three providers are included: Anthropic (anthropic-sdk-go), OpenAI
// (sashabaranov/go-openai), and Ollama (plain HTTP against a local
// daemon). Each translates the thread window into its wire format,
// streams the response back as models.Fragment values, and maps SDK
// errors through the shared classifier in errors.go so RetryingClient
// can tell transient failures from fatal ones.
//
// Example:
//
//	inner, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    return err
//	}
//	client := providers.NewRetryingClient(inner, providers.RetryOptions{MaxRetries: 3})
//
//	frags, err := client.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	for frag := range frags {
//	    if frag.Err != nil {
//	        return frag.Err
//	    }
//	    fmt.Print(frag.Text)
//	}
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive no-op events before a stream
// is declared malformed, so a flooding stream cannot pin the CPU.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// DefaultModel is used when the request does not name one.
	DefaultModel string
}

// AnthropicProvider implements runtime.Client against the Anthropic
// Messages API. Safe for concurrent use; each Stream call runs an
// independent SSE loop.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

var _ runtime.Client = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete issues a blocking, non-streaming request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *runtime.Request) (*runtime.Response, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewModelError("anthropic", model, err)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	resp := &runtime.Response{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			input := json.RawMessage(use.JSON.Input.Raw())
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:      use.ID,
				Name:    use.Name,
				Input:   input,
				Surface: models.SurfaceStructured,
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// Stream issues a streaming request. Text deltas are forwarded as they
// arrive; tool_use blocks are forwarded as invocation deltas keyed by
// the block's tool-use ID and completed on content_block_stop.
func (p *AnthropicProvider) Stream(ctx context.Context, req *runtime.Request) (<-chan models.Fragment, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewModelError("anthropic", model, err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan models.Fragment)
	go p.pump(ctx, stream, out, model)
	return out, nil
}

// pump converts Anthropic SSE events into fragments. One tool_use block
// is open at a time; its ID keys every delta so the parser can correlate
// them.
func (p *AnthropicProvider) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.Fragment, model string) {
	defer close(out)
	defer stream.Close()

	var inputTokens, outputTokens int
	var openID string
	empty := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				use := blockStart.ContentBlock.AsToolUse()
				openID = use.ID
				// The name arrives before any argument bytes.
				if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
					ID:   use.ID,
					Name: use.Name,
				}}) {
					return
				}
				processed = true
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			switch blockDelta.Delta.Type {
			case "text_delta":
				if blockDelta.Delta.Text != "" {
					if !send(ctx, out, models.Fragment{Text: blockDelta.Delta.Text}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if blockDelta.Delta.PartialJSON != "" && openID != "" {
					if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
						ID:        openID,
						ArgsDelta: blockDelta.Delta.PartialJSON,
					}}) {
						return
					}
					processed = true
				}
			}

		case "content_block_stop":
			if openID != "" {
				if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
					ID:       openID,
					Complete: true,
				}}) {
					return
				}
				openID = ""
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			send(ctx, out, models.Fragment{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			send(ctx, out, models.Fragment{
				Err: p.wrapError(errors.New("anthropic stream error"), model),
			})
			return
		}

		if processed {
			empty = 0
		} else {
			empty++
			if empty >= maxEmptyStreamEvents {
				send(ctx, out, models.Fragment{
					Err: p.wrapError(fmt.Errorf("stream appears malformed: received %d consecutive empty events", empty), model),
				})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, out, models.Fragment{Err: p.wrapError(err, model)})
		return
	}

	// Stream closed without message_stop; treat as a clean end.
	send(ctx, out, models.Fragment{
		Done:         true,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

func (p *AnthropicProvider) buildParams(req *runtime.Request, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(capTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{
			Type: "text",
			Text: req.System,
		}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// convertAnthropicMessages maps the canonical window onto Anthropic
// content blocks. Tool results ride in user messages immediately after
// the assistant message carrying their calls.
func convertAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, wm := range canonicalMessages(messages) {
		var content []anthropic.ContentBlockParamUnion

		if wm.content != "" {
			content = append(content, anthropic.NewTextBlock(wm.content))
		}
		for _, res := range wm.results {
			content = append(content, anthropic.NewToolResultBlock(res.ToolCallID, res.Content, res.IsError))
		}
		for _, call := range wm.calls {
			var input map[string]any
			if len(call.Input) == 0 {
				input = map[string]any{}
			} else if err := json.Unmarshal(call.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", call.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if len(content) == 0 {
			continue
		}
		if wm.role == roleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(schemas []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, schema := range schemas {
		params := schema.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(params, &inputSchema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", schema.Name, err)
		}

		tool := anthropic.ToolUnionParamOfTool(inputSchema, schema.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", schema.Name)
		}
		tool.OfTool.Description = anthropic.String(schema.Description)
		result = append(result, tool)
	}
	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError lifts SDK errors into ModelError, pulling status, code, and
// request ID out of the API error payload when present.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsModelError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		modelErr := NewModelError("anthropic", model, err).WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				modelErr = modelErr.
					WithMessage(payload.Error.Message).
					WithCode(payload.Error.Type).
					WithRequestID(payload.RequestID)
			}
		}
		if modelErr.RequestID == "" {
			modelErr = modelErr.WithRequestID(apiErr.RequestID)
		}
		if modelErr.Message == "" {
			modelErr.Message = "anthropic request failed"
		}
		return modelErr
	}

	return NewModelError("anthropic", model, err)
}

// send delivers a fragment unless the context ends first.
func send(ctx context.Context, out chan<- models.Fragment, frag models.Fragment) bool {
	select {
	case out <- frag:
		return true
	case <-ctx.Done():
		return false
	}
}
