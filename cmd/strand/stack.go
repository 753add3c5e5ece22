package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/haasonsaas/strand/internal/auth"
	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/runtime/compact"
	"github.com/haasonsaas/strand/internal/runtime/providers"
	"github.com/haasonsaas/strand/internal/threads"
	"github.com/haasonsaas/strand/internal/tools"
)

// defaultConfigPath is tried when --config is not given. A missing
// default file falls back to built-in defaults; an explicit path must
// exist.
const defaultConfigPath = "strand.yaml"

// loadConfig reads configuration for a command. explicit marks whether
// the user set --config themselves.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit && path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// stack is the wired run engine behind serve and one-shot runs: store,
// provider client, tool registry, loop, and manager.
type stack struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	store   threads.Store
	manager *runtime.Manager
	auth    *auth.Service

	tracerShutdown func(context.Context) error
}

// buildStack assembles the engine from configuration. withMetrics
// controls Prometheus registration; the one-shot path skips it.
func buildStack(cfg *config.Config, withMetrics bool) (*stack, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	var metrics *observability.Metrics
	if withMetrics {
		metrics = observability.NewMetrics()
	}

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	store, err := threads.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}

	client, err := providers.FromConfig(cfg.Model, logger, metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := runtime.NewRegistry()
	if err := tools.RegisterBuiltin(registry, tools.Config{WorkspaceRoot: cfg.Run.WorkspaceRoot}); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	executor := runtime.NewExecutor(registry, runtime.ExecutorConfig{
		Timeout:       cfg.Run.ToolTimeout,
		MaxConcurrent: cfg.Run.MaxConcurrentTools,
	}, logger, metrics)

	summaryModel := cfg.Compaction.Model
	if summaryModel == "" {
		summaryModel = cfg.Model.Model
	}
	compactor := compact.New(store, client, cfg.Compaction, summaryModel, logger, metrics, tracer)

	recorder := observability.NewEventRecorder(observability.NewMemoryEventStore(1024), logger)

	loop := runtime.NewLoop(runtime.LoopConfig{
		Client:        client,
		Store:         store,
		Registry:      registry,
		Executor:      executor,
		Compactor:     compactor,
		Model:         cfg.Model.Model,
		SystemPrompt:  cfg.Run.SystemPrompt,
		MaxTokens:     cfg.Model.MaxTokens,
		MaxIterations: cfg.Run.MaxIterations,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
		Recorder:      recorder,
		Usage:         observability.NewUsageTracker(),
	})

	var authService *auth.Service
	if cfg.Auth.Enabled {
		authService = auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	}

	return &stack{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		store:          store,
		manager:        runtime.NewManager(loop, cfg.Run.MaxConcurrentRuns),
		auth:           authService,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Close releases the stack's resources.
func (s *stack) Close(ctx context.Context) {
	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Warn(ctx, "tracer shutdown error", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close error", "error", err)
	}
}
