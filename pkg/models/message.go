package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageKind identifies who or what produced a message.
type MessageKind string

const (
	KindUser       MessageKind = "user"
	KindAssistant  MessageKind = "assistant"
	KindToolResult MessageKind = "tool_result"
	KindSystem     MessageKind = "system"
	KindSummary    MessageKind = "summary"
)

// InvocationSurface identifies how a tool invocation was expressed by the model.
type InvocationSurface string

const (
	// SurfaceStructured is a provider-native tool call: name plus an argument
	// object delivered through the structured tool-use channel.
	SurfaceStructured InvocationSurface = "structured"

	// SurfaceTagged is an inline <tool ...>...</tool> marker embedded in the
	// model's text output.
	SurfaceTagged InvocationSurface = "tagged"
)

// Message is one entry in a thread's append-only log. Messages are never
// mutated after they are appended; corrections are new messages.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	// Seq is the 1-based position in the thread, assigned by the store on
	// append. Total order within a thread.
	Seq          int64          `json:"seq"`
	Kind         MessageKind    `json:"kind"`
	Content      string         `json:"content,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult   `json:"tool_results,omitempty"`
	ModelVisible bool           `json:"model_visible"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ToolCall is a model-requested tool invocation recorded on an assistant
// message. ID is invocation-local and correlates the eventual ToolResult.
type ToolCall struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Input   json.RawMessage   `json:"input,omitempty"`
	Surface InvocationSurface `json:"surface,omitempty"`
}

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewMessage builds an unappended message of the given kind. Seq is zero
// until the store assigns it.
func NewMessage(threadID string, kind MessageKind, content string) *Message {
	return &Message{
		ID:           uuid.NewString(),
		ThreadID:     threadID,
		Kind:         kind,
		Content:      content,
		ModelVisible: true,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewToolResultMessage wraps a single tool result as a message.
func NewToolResultMessage(threadID string, result ToolResult) *Message {
	m := NewMessage(threadID, KindToolResult, result.Content)
	m.ToolResults = []ToolResult{result}
	return m
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate the log through shared slices or maps.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	if len(m.ToolResults) > 0 {
		out.ToolResults = make([]ToolResult, len(m.ToolResults))
		copy(out.ToolResults, m.ToolResults)
	}
	if len(m.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
