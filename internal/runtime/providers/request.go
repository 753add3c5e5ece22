package providers

import (
	"fmt"

	"github.com/haasonsaas/strand/pkg/models"
)

// Wire role constants shared by the provider adapters.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// summaryPreamble introduces a compaction summary when it is replayed to
// the model as an ordinary user message.
const summaryPreamble = "Summary of the conversation so far:\n"

// defaultMaxTokens caps completions when the request does not.
const defaultMaxTokens = 4096

// wireMessage is a provider-neutral message after canonical ordering:
// either an assistant message carrying text and tool calls, or a
// user-side message carrying text or tool results (never both).
type wireMessage struct {
	role    string
	content string
	calls   []models.ToolCall
	results []models.ToolResult
}

// canonicalMessages converts a thread window into wire order.
//
// The log records tool results before the assistant message that
// requested them, because results are durable the moment execution
// finishes while the assistant text is persisted at the end of the
// turn. Providers require the opposite: an assistant message carrying
// the calls, immediately followed by the results. This walk buffers
// results until their assistant message appears, then emits the pair in
// wire order with results sorted by the assistant's call order.
//
// Repairs applied along the way:
//   - a call whose result never made it into the log gets a synthetic
//     error result, since providers reject a dangling tool call
//   - a result whose call never made it into the log degrades to plain
//     user text at the end of the window
//   - summary messages replay as user text with a fixed preamble
//   - system and empty messages are dropped; the system prompt travels
//     in the request's own field
func canonicalMessages(messages []*models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	pending := make(map[string]models.ToolResult)
	var pendingOrder []string

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Kind {
		case models.KindToolResult:
			for _, res := range msg.ToolResults {
				if _, seen := pending[res.ToolCallID]; !seen {
					pendingOrder = append(pendingOrder, res.ToolCallID)
				}
				pending[res.ToolCallID] = res
			}

		case models.KindAssistant:
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, wireMessage{
				role:    roleAssistant,
				content: msg.Content,
				calls:   msg.ToolCalls,
			})
			if len(msg.ToolCalls) == 0 {
				continue
			}
			results := make([]models.ToolResult, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				res, ok := pending[call.ID]
				if ok {
					delete(pending, call.ID)
				} else {
					res = models.ToolResult{
						ToolCallID: call.ID,
						Content:    "tool result unavailable",
						IsError:    true,
					}
				}
				results = append(results, res)
			}
			out = append(out, wireMessage{role: roleUser, results: results})

		case models.KindSummary:
			if msg.Content == "" {
				continue
			}
			out = append(out, wireMessage{
				role:    roleUser,
				content: summaryPreamble + msg.Content,
			})

		case models.KindSystem:
			continue

		default:
			if msg.Content == "" {
				continue
			}
			out = append(out, wireMessage{role: roleUser, content: msg.Content})
		}
	}

	// Orphaned results only occur at the tail of a window, when a run
	// died between executing tools and persisting the assistant turn.
	for _, id := range pendingOrder {
		res, ok := pending[id]
		if !ok {
			continue
		}
		status := "ok"
		if res.IsError {
			status = "error"
		}
		out = append(out, wireMessage{
			role:    roleUser,
			content: fmt.Sprintf("Earlier tool result (%s): %s", status, res.Content),
		})
	}

	return out
}

// callNames indexes tool call IDs to tool names across a window, for
// providers whose wire format labels results by name instead of ID.
func callNames(messages []*models.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, call := range msg.ToolCalls {
			if call.ID != "" && call.Name != "" {
				names[call.ID] = call.Name
			}
		}
	}
	return names
}

// capTokens applies the default completion cap.
func capTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}
