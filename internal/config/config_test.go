package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}

	if len(cfg.Providers) != 1 || cfg.Providers[0].Kind != "ollama" {
		t.Errorf("expected a single ollama provider, got %+v", cfg.Providers)
	}

	if cfg.Providers[0].Model != "qwen2.5:7b" {
		t.Errorf("expected model 'qwen2.5:7b', got %q", cfg.Providers[0].Model)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
providers:
  - id: claude
    kind: anthropic
    model: claude-sonnet-4-5
    api_key_env: ANTHROPIC_API_KEY
  - id: local
    kind: ollama
    model: llama3
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if len(cfg.Providers) != 2 || cfg.Providers[0].ID != "claude" {
		t.Errorf("expected configured providers to replace the default, got %+v", cfg.Providers)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Pipeline.StageTimeout != "90s" {
		t.Errorf("expected default stage_timeout, got %q", cfg.Pipeline.StageTimeout)
	}
	if cfg.Sources.DaysBack != 30 {
		t.Errorf("expected default days_back, got %d", cfg.Sources.DaysBack)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"empty list":           "providers: []\n",
		"missing id":           "providers:\n  - kind: ollama\n",
		"duplicate id":         "providers:\n  - {id: a, kind: ollama}\n  - {id: a, kind: openai}\n",
		"unknown kind":         "providers:\n  - {id: a, kind: mystery}\n",
		"negative temperature": "pipeline:\n  temperature: -0.5\n",
	}
	for name, data := range cases {
		if _, err := parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestProviderSpecs(t *testing.T) {
	cfg, err := parse([]byte(`
providers:
  - id: demo
    kind: static
    requests_per_minute: 30
    max_retries: 1
    responses: ["# Demo"]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	specs := cfg.ProviderSpecs()
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	s := specs[0]
	if s.ID != "demo" || s.Kind != "static" || s.RequestsPerMinute != 30 || s.MaxRetries != 1 {
		t.Errorf("unexpected spec: %+v", s)
	}
	if len(s.Responses) != 1 || s.Responses[0] != "# Demo" {
		t.Errorf("unexpected responses: %v", s.Responses)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg, _ := parse(DefaultConfigYAML)

	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.StageTimeout != 90*time.Second {
		t.Errorf("expected 90s stage timeout, got %v", opts.StageTimeout)
	}
	if opts.EnsembleTimeout != time.Minute {
		t.Errorf("expected 1m ensemble timeout, got %v", opts.EnsembleTimeout)
	}
	if opts.Stage.SynthesisTimeout != 3*time.Minute {
		t.Errorf("expected 3m synthesis timeout, got %v", opts.Stage.SynthesisTimeout)
	}
	if opts.Stage.SynthesisMaxTokens != 4096 {
		t.Errorf("expected 4096 synthesis tokens, got %d", opts.Stage.SynthesisMaxTokens)
	}

	cfg.Pipeline.StageTimeout = "soon"
	if _, err := cfg.PipelineOptions(); err == nil {
		t.Error("expected error for invalid duration")
	}
	cfg.Pipeline.StageTimeout = "-1s"
	if _, err := cfg.PipelineOptions(); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestPipelineOptionsKeepsZeroTemperature(t *testing.T) {
	cfg, err := parse([]byte("pipeline:\n  temperature: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Stage.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", opts.Stage.Temperature)
	}

	cfg, _ = parse(DefaultConfigYAML)
	opts, _ = cfg.PipelineOptions()
	if opts.Stage.Temperature != 0.3 {
		t.Errorf("expected default temperature 0.3, got %v", opts.Stage.Temperature)
	}
}

func TestCollectOptions(t *testing.T) {
	cfg, _ := parse(DefaultConfigYAML)

	opts, err := cfg.CollectOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.Feeds) != len(cfg.Sources.Feeds) {
		t.Errorf("expected %d feeds, got %d", len(cfg.Sources.Feeds), len(opts.Feeds))
	}
	if opts.FetchTimeout != 15*time.Second {
		t.Errorf("expected 15s fetch timeout, got %v", opts.FetchTimeout)
	}
	if opts.NewsAPIKeyEnv != "" {
		t.Error("expected newsapi disabled by default")
	}

	cfg.Sources.NewsAPI.Enabled = true
	opts, _ = cfg.CollectOptions()
	if opts.NewsAPIKeyEnv != "NEWSAPI_KEY" {
		t.Errorf("expected NEWSAPI_KEY, got %q", opts.NewsAPIKeyEnv)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.DBPath() != filepath.Join("/custom/path", "marketaudit.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}
