package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/strand/pkg/models"
)

func userMsg(content string) *models.Message {
	return &models.Message{Kind: models.KindUser, Content: content}
}

func assistantMsg(content string, calls ...models.ToolCall) *models.Message {
	return &models.Message{Kind: models.KindAssistant, Content: content, ToolCalls: calls}
}

func resultMsg(results ...models.ToolResult) *models.Message {
	return &models.Message{Kind: models.KindToolResult, ToolResults: results}
}

func wireRoles(wms []wireMessage) []string {
	roles := make([]string, 0, len(wms))
	for _, wm := range wms {
		roles = append(roles, wm.role)
	}
	return roles
}

func TestCanonicalMessagesReordersResults(t *testing.T) {
	// The log appends tool results before the assistant message that
	// requested them; the wire wants the reverse.
	call := models.ToolCall{ID: "call_1", Name: "list_files", Input: json.RawMessage(`{"path":"."}`)}
	messages := []*models.Message{
		userMsg("list the files"),
		resultMsg(models.ToolResult{ToolCallID: "call_1", Content: "a.go\nb.go"}),
		assistantMsg("", call),
	}

	wms := canonicalMessages(messages)

	if got := wireRoles(wms); !equalStrings(got, []string{roleUser, roleAssistant, roleUser}) {
		t.Fatalf("roles = %v, want [user assistant user]", got)
	}
	if len(wms[1].calls) != 1 || wms[1].calls[0].ID != "call_1" {
		t.Errorf("assistant calls = %+v, want call_1", wms[1].calls)
	}
	results := wms[2].results
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Content != "a.go\nb.go" || results[0].IsError {
		t.Errorf("result = %+v, want the buffered content", results[0])
	}
}

func TestCanonicalMessagesSynthesizesMissingResult(t *testing.T) {
	messages := []*models.Message{
		resultMsg(models.ToolResult{ToolCallID: "call_2", Content: "found it"}),
		assistantMsg("",
			models.ToolCall{ID: "call_1", Name: "read_file"},
			models.ToolCall{ID: "call_2", Name: "search"},
		),
	}

	wms := canonicalMessages(messages)

	if len(wms) != 2 {
		t.Fatalf("messages = %d, want 2", len(wms))
	}
	results := wms[1].results
	if len(results) != 2 {
		t.Fatalf("results = %d, want one per call", len(results))
	}
	if results[0].ToolCallID != "call_1" || !results[0].IsError {
		t.Errorf("results[0] = %+v, want synthetic error for call_1", results[0])
	}
	if results[0].Content != "tool result unavailable" {
		t.Errorf("synthetic content = %q", results[0].Content)
	}
	if results[1].ToolCallID != "call_2" || results[1].Content != "found it" {
		t.Errorf("results[1] = %+v, want the real result", results[1])
	}
}

func TestCanonicalMessagesOrphanedResultTail(t *testing.T) {
	messages := []*models.Message{
		userMsg("hello"),
		resultMsg(
			models.ToolResult{ToolCallID: "call_9", Content: "leftover output"},
			models.ToolResult{ToolCallID: "call_10", Content: "disk full", IsError: true},
		),
	}

	wms := canonicalMessages(messages)

	if len(wms) != 3 {
		t.Fatalf("messages = %d, want 3", len(wms))
	}
	if wms[1].content != "Earlier tool result (ok): leftover output" {
		t.Errorf("orphan = %q", wms[1].content)
	}
	if wms[2].content != "Earlier tool result (error): disk full" {
		t.Errorf("orphan = %q", wms[2].content)
	}
}

func TestCanonicalMessagesSummaryPreamble(t *testing.T) {
	messages := []*models.Message{
		{Kind: models.KindSummary, Content: "User asked for a report; three files were inspected."},
	}

	wms := canonicalMessages(messages)

	if len(wms) != 1 || wms[0].role != roleUser {
		t.Fatalf("messages = %+v, want single user message", wms)
	}
	if !strings.HasPrefix(wms[0].content, summaryPreamble) {
		t.Errorf("content = %q, want %q prefix", wms[0].content, summaryPreamble)
	}
	if !strings.Contains(wms[0].content, "three files were inspected") {
		t.Errorf("content = %q, summary body missing", wms[0].content)
	}
}

func TestCanonicalMessagesSkipsSystemAndEmpty(t *testing.T) {
	messages := []*models.Message{
		{Kind: models.KindSystem, Content: "run preamble"},
		userMsg(""),
		assistantMsg(""),
		nil,
		{Kind: models.KindSummary, Content: ""},
	}

	if wms := canonicalMessages(messages); len(wms) != 0 {
		t.Errorf("messages = %+v, want none", wms)
	}
}

func TestCallNames(t *testing.T) {
	messages := []*models.Message{
		assistantMsg("", models.ToolCall{ID: "call_1", Name: "read_file"}),
		assistantMsg("", models.ToolCall{ID: "call_2", Name: "search"}, models.ToolCall{ID: "", Name: "ignored"}),
	}

	names := callNames(messages)

	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
	if names["call_1"] != "read_file" || names["call_2"] != "search" {
		t.Errorf("names = %v", names)
	}
}

func TestCapTokens(t *testing.T) {
	if got := capTokens(0); got != defaultMaxTokens {
		t.Errorf("capTokens(0) = %d, want %d", got, defaultMaxTokens)
	}
	if got := capTokens(-5); got != defaultMaxTokens {
		t.Errorf("capTokens(-5) = %d, want %d", got, defaultMaxTokens)
	}
	if got := capTokens(9000); got != 9000 {
		t.Errorf("capTokens(9000) = %d, want 9000", got)
	}
}
