package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "belay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  providers:
    anthropic:
      api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Agent.ID != "belay" {
		t.Errorf("agent id = %q, want belay", cfg.Agent.ID)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("max steps = %d, want 10", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.MaxTokens != 4096 {
		t.Errorf("max tokens = %d, want 4096", cfg.Agent.MaxTokens)
	}
	if cfg.Agent.SystemPrompt == "" {
		t.Error("system prompt default missing")
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", cfg.LLM.DefaultProvider)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Scheduler.TickInterval != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.Scheduler.TickInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Scheduler.On() {
		t.Error("scheduler should default to enabled")
	}
	if cfg.Provider().APIKey != "test-key" {
		t.Errorf("provider api key = %q", cfg.Provider().APIKey)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("BELAY_TEST_KEY", "from-env")
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: ${BELAY_TEST_KEY}
      default_model: gpt-4o-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Provider().APIKey; got != "from-env" {
		t.Fatalf("api key = %q, want from-env", got)
	}
	if got := cfg.Provider().DefaultModel; got != "gpt-4o-mini" {
		t.Fatalf("default model = %q", got)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
agent:
  id: coach
  system_prompt: be brief
  max_steps: 4
  max_tokens: 1024
storage:
  driver: sqlite
  path: /tmp/belay.db
scheduler:
  enabled: true
  tick_interval: 250ms
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "coach" || cfg.Agent.MaxSteps != 4 {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/belay.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Scheduler.On() || cfg.Scheduler.TickInterval != 250*time.Millisecond {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_SchedulerDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  enabled: false
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.On() {
		t.Fatal("scheduler should be disabled")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := map[string]string{
		"unknown driver": `
storage:
  driver: postgres
`,
		"sqlite without path": `
storage:
  driver: sqlite
`,
		"unknown provider": `
llm:
  default_provider: hal9000
`,
		"negative max steps": `
agent:
  max_steps: -1
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")

	cfg := Default()
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("provider = %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Provider().APIKey != "env-anthropic" {
		t.Fatalf("api key = %q", cfg.Provider().APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
