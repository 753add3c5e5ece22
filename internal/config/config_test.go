package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
version: 1
database:
  driver: sqlite
  path: /tmp/strand-test.db
model:
  provider: anthropic
  api_key: test-key
run:
  max_iterations: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Run.MaxIterations != 8 {
		t.Errorf("expected 8 max iterations, got %d", cfg.Run.MaxIterations)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
model:
  provider: ollama
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.Version != CurrentVersion {
		t.Errorf("expected version %d, got %d", CurrentVersion, cfg.Version)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("expected default memory driver, got %s", cfg.Database.Driver)
	}
	if cfg.Model.MaxTokens != 4096 {
		t.Errorf("expected default max tokens 4096, got %d", cfg.Model.MaxTokens)
	}
	if cfg.Model.Retry.MaxRetries != 3 {
		t.Errorf("expected default 3 retries, got %d", cfg.Model.Retry.MaxRetries)
	}
	if cfg.Model.Retry.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected default 100ms initial backoff, got %v", cfg.Model.Retry.InitialBackoff)
	}
	if cfg.Run.ToolTimeout != 60*time.Second {
		t.Errorf("expected default 60s tool timeout, got %v", cfg.Run.ToolTimeout)
	}
	if cfg.Compaction.TokenThreshold != 48000 {
		t.Errorf("expected default token threshold, got %d", cfg.Compaction.TokenThreshold)
	}
	if cfg.Compaction.MinMessages != 12 {
		t.Errorf("expected default min messages, got %d", cfg.Compaction.MinMessages)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
server:
  host: 0.0.0.0
  extra: true
model:
  provider: anthropic
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDriver(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
database:
  driver: mongodb
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("expected database.driver error, got %v", err)
	}
}

func TestLoadValidatesPostgresURL(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
database:
  driver: postgres
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.url") {
		t.Fatalf("expected database.url error, got %v", err)
	}
}

func TestLoadValidatesProvider(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
model:
  provider: bedrock
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "model.provider") {
		t.Fatalf("expected model.provider error, got %v", err)
	}
}

func TestLoadValidatesAuthSecret(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
auth:
  enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoadValidatesCompaction(t *testing.T) {
	path := writeConfig(t, "strand.yaml", `
compaction:
  min_messages: 1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "min_messages") {
		t.Fatalf("expected min_messages error, got %v", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("STRAND_TEST_KEY", "from-env")

	path := writeConfig(t, "strand.yaml", `
model:
  provider: anthropic
  api_key: ${STRAND_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Model.APIKey != "from-env" {
		t.Errorf("expected env expansion, got %q", cfg.Model.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte(strings.TrimSpace(`
model:
  provider: openai
  max_tokens: 2048
logging:
  level: debug
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	main := filepath.Join(dir, "strand.yaml")
	if err := os.WriteFile(main, []byte(strings.TrimSpace(`
$include: base.yaml
model:
  max_tokens: 1024
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	// Including file wins on conflict, include fills the rest
	if cfg.Model.MaxTokens != 1024 {
		t.Errorf("expected including file to win, got %d", cfg.Model.MaxTokens)
	}
	if cfg.Model.Provider != "openai" {
		t.Errorf("expected provider from include, got %s", cfg.Model.Provider)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level from include, got %s", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadJSON5Config(t *testing.T) {
	path := writeConfig(t, "strand.json5", `
{
  // comments are allowed in json5
  model: {
    provider: "ollama",
  },
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected json5 config to load, got %v", err)
	}
	if cfg.Model.Provider != "ollama" {
		t.Errorf("expected ollama provider, got %s", cfg.Model.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
