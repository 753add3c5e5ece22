package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/strand/internal/runtime"
)

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Berlin. Defaults to UTC."`
}

func currentTimeHandler(clock func() time.Time) runtime.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args currentTimeArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}

		loc := time.UTC
		if args.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(args.Timezone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", args.Timezone)
			}
		}

		now := clock().In(loc)
		out := struct {
			Time     string `json:"time"`
			Unix     int64  `json:"unix"`
			Timezone string `json:"timezone"`
			Weekday  string `json:"weekday"`
		}{
			Time:     now.Format(time.RFC3339),
			Unix:     now.Unix(),
			Timezone: loc.String(),
			Weekday:  now.Weekday().String(),
		}
		payload, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(payload), nil
	}
}
