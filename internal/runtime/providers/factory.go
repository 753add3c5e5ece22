package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/strand/internal/backoff"
	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime"
)

// FromConfig builds the configured provider and wraps it in the retry
// layer. API keys fall back to the conventional environment variables
// when the config leaves them empty.
func FromConfig(cfg config.ModelConfig, logger *observability.Logger, metrics *observability.Metrics) (runtime.Client, error) {
	var inner runtime.Client

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic", "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		provider, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		inner = provider

	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		inner = provider

	case "ollama":
		inner = NewOllamaProvider(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})

	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	return NewRetryingClient(inner, RetryOptions{
		MaxRetries: cfg.Retry.MaxRetries,
		Policy: backoff.Policy{
			Initial: cfg.Retry.InitialBackoff,
			Max:     cfg.Retry.MaxBackoff,
			Factor:  cfg.Retry.BackoffFactor,
			Jitter:  cfg.Retry.Jitter,
		},
		Logger:  logger,
		Metrics: metrics,
	}), nil
}
