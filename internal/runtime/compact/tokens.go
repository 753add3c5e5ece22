package compact

import (
	"unicode/utf8"

	"github.com/haasonsaas/strand/pkg/models"
)

// The estimator runs on every loop iteration, so it counts characters
// instead of running a real tokenizer. It deliberately overcounts:
// compacting a little early is recoverable, overflowing the context
// window is not.
const (
	charsPerToken = 4

	// perMessageOverhead covers role and framing tokens.
	perMessageOverhead = 8

	// perToolOverhead covers tool call and result framing.
	perToolOverhead = 12
)

// EstimateTokens approximates the token count of a message window.
func EstimateTokens(msgs []*models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += perMessageOverhead
		total += tokensForLen(len(msg.Content))
		for _, call := range msg.ToolCalls {
			total += perToolOverhead
			total += tokensForLen(len(call.Name) + len(call.Input))
		}
		for _, result := range msg.ToolResults {
			total += perToolOverhead
			total += tokensForLen(len(result.Content))
		}
	}
	return total
}

func tokensForLen(n int) int {
	return (n + charsPerToken - 1) / charsPerToken
}

// Truncate bounds a summary to maxTokens under the same estimate the
// budget check uses, cutting on a rune boundary.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	maxChars := maxTokens * charsPerToken
	if len(s) <= maxChars {
		return s
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
