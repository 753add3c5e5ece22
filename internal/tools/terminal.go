package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/strand/internal/runtime"
)

// askArgs put a question to the user. A successful ask halts the run
// pending their reply.
type askArgs struct {
	Question string   `json:"question" jsonschema:"description=The question to put to the user"`
	Choices  []string `json:"choices,omitempty" jsonschema:"description=Optional fixed choices the user may pick from"`
}

// completeArgs finish the run. A successful complete halts the run as
// done.
type completeArgs struct {
	Summary string `json:"summary" jsonschema:"description=Final summary of what was accomplished"`
}

func askHandler() runtime.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args askArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		if strings.TrimSpace(args.Question) == "" {
			return "", errors.New("question is required")
		}
		if len(args.Choices) == 0 {
			return args.Question, nil
		}
		return args.Question + "\nChoices: " + strings.Join(args.Choices, ", "), nil
	}
}

func completeHandler() runtime.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args completeArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		if strings.TrimSpace(args.Summary) == "" {
			return "", errors.New("summary is required")
		}
		return args.Summary, nil
	}
}
