package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required. Format: sk-...
	APIKey string

	// BaseURL overrides the default API endpoint, for proxies and
	// OpenAI-compatible servers.
	BaseURL string

	// DefaultModel is used when the request does not name one.
	DefaultModel string
}

// OpenAIProvider implements runtime.Client against the OpenAI chat
// completions API.
//
// OpenAI streams tool calls incrementally: the first chunk for a call
// carries its index, ID, and name, later chunks append argument JSON,
// and a finish_reason of "tool_calls" closes them all. The stream pump
// maps each positional index to the call ID from its first chunk so
// downstream sees stable invocation IDs.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

var _ runtime.Client = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete issues a blocking, non-streaming request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *runtime.Request) (*runtime.Response, error) {
	model := p.model(req.Model)
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, model, false))
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	out := &runtime.Response{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:      call.ID,
			Name:    call.Function.Name,
			Input:   input,
			Surface: models.SurfaceStructured,
		})
	}
	return out, nil
}

// Stream issues a streaming request.
func (p *OpenAIProvider) Stream(ctx context.Context, req *runtime.Request) (<-chan models.Fragment, error) {
	model := p.model(req.Model)
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, model, true))
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	out := make(chan models.Fragment)
	go p.pump(ctx, stream, out, model)
	return out, nil
}

// pump converts OpenAI stream chunks into fragments, accumulating the
// index-to-ID mapping for tool calls as their first chunks arrive.
func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.Fragment, model string) {
	defer close(out)
	defer stream.Close()

	ids := make(map[int]string)
	open := make(map[int]bool)
	var order []int
	var inputTokens, outputTokens int

	// finish closes every tool call that is still streaming.
	finish := func() bool {
		for _, idx := range order {
			if !open[idx] {
				continue
			}
			open[idx] = false
			if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
				ID:       ids[idx],
				Complete: true,
			}}) {
				return false
			}
		}
		return true
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !finish() {
					return
				}
				send(ctx, out, models.Fragment{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				})
				return
			}
			send(ctx, out, models.Fragment{Err: p.wrapError(err, model)})
			return
		}

		// With IncludeUsage set, the final chunk carries usage and no
		// choices.
		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, out, models.Fragment{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			id, known := ids[idx]
			if !known {
				id = call.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", idx)
				}
				ids[idx] = id
				open[idx] = true
				order = append(order, idx)
			}
			if !send(ctx, out, models.Fragment{Invocation: &models.InvocationDelta{
				ID:        id,
				Name:      call.Function.Name,
				ArgsDelta: call.Function.Arguments,
			}}) {
				return
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !finish() {
				return
			}
		}
	}
}

func (p *OpenAIProvider) buildRequest(req *runtime.Request, model string, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		out.Tools = convertOpenAITools(req.Tools)
	}
	return out
}

// convertOpenAIMessages maps the canonical window onto OpenAI chat
// messages. The system prompt leads the array; each tool result becomes
// its own "tool" role message correlated by tool_call_id.
func convertOpenAIMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, wm := range canonicalMessages(messages) {
		if wm.role == roleAssistant {
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: wm.content,
			}
			for _, call := range wm.calls {
				args := string(call.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, msg)
			continue
		}

		for _, res := range wm.results {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    toolResultContent(res),
				ToolCallID: res.ToolCallID,
			})
		}
		if wm.content != "" {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: wm.content,
			})
		}
	}
	return result
}

// toolResultContent renders a result for providers without a native
// error flag on tool messages.
func toolResultContent(res models.ToolResult) string {
	if res.IsError {
		return "ERROR: " + res.Content
	}
	return res.Content
}

func convertOpenAITools(schemas []models.ToolSchema) []openai.Tool {
	tools := make([]openai.Tool, 0, len(schemas))
	for _, schema := range schemas {
		params := schema.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError lifts go-openai errors into ModelError.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsModelError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		modelErr := NewModelError("openai", model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			modelErr = modelErr.WithCode(code)
		} else if apiErr.Type != "" {
			modelErr = modelErr.WithCode(apiErr.Type)
		}
		return modelErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewModelError("openai", model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewModelError("openai", model, err)
}
