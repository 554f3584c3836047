// Package config loads the marketaudit YAML configuration.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/marketaudit/internal/collect"
	"github.com/TobiSchelling/marketaudit/internal/llm"
	"github.com/TobiSchelling/marketaudit/internal/pipeline"
	"github.com/TobiSchelling/marketaudit/internal/stage"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const appName = "marketaudit"

type Config struct {
	Providers []Provider `yaml:"providers"`
	Pipeline  Pipeline   `yaml:"pipeline"`
	Sources   Sources    `yaml:"sources"`
	Output    Output     `yaml:"output"`
	Server    Server     `yaml:"server"`
	Logging   Logging    `yaml:"logging"`
}

// Provider is one model provider. The first entry is the primary.
type Provider struct {
	ID                string   `yaml:"id"`
	Kind              string   `yaml:"kind"`
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	MaxRetries        int      `yaml:"max_retries"`
	Responses         []string `yaml:"responses"`
}

type Pipeline struct {
	StageTimeout       string  `yaml:"stage_timeout"`
	EnsembleTimeout    string  `yaml:"ensemble_timeout"`
	SynthesisTimeout   string  `yaml:"synthesis_timeout"`
	MaxTokens          int     `yaml:"max_tokens"`
	SynthesisMaxTokens int     `yaml:"synthesis_max_tokens"`
	Temperature        float64 `yaml:"temperature"`
}

type Sources struct {
	Feeds        []Feed        `yaml:"feeds"`
	FetchTimeout string        `yaml:"fetch_timeout"`
	DaysBack     int           `yaml:"days_back"`
	NewsAPI      NewsAPIConfig `yaml:"newsapi"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for marketaudit.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", appName)
}

// DataDir returns the XDG data directory for marketaudit.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", appName)
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/marketaudit/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", eris.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", eris.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'marketaudit init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "reading config")
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Providers: []Provider{
			{ID: "ollama", Kind: llm.KindOllama, Model: "qwen2.5:7b", BaseURL: "http://localhost:11434"},
		},
		Pipeline: Pipeline{
			StageTimeout:       "90s",
			EnsembleTimeout:    "60s",
			SynthesisTimeout:   "3m",
			MaxTokens:          1024,
			SynthesisMaxTokens: 4096,
			Temperature:        0.3,
		},
		Sources: Sources{
			FetchTimeout: "15s",
			DaysBack:     30,
			NewsAPI:      NewsAPIConfig{APIKeyEnv: "NEWSAPI_KEY"},
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrap(err, "parsing config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return eris.New("config: at least one provider is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			return eris.Errorf("config: provider %d has no id", i+1)
		}
		if seen[p.ID] {
			return eris.Errorf("config: provider id %q used twice", p.ID)
		}
		seen[p.ID] = true
		switch strings.ToLower(p.Kind) {
		case llm.KindOllama, llm.KindOpenAI, llm.KindAnthropic, llm.KindGemini, llm.KindStatic:
		default:
			return eris.Errorf("config: provider %q has unknown kind %q", p.ID, p.Kind)
		}
	}
	if c.Pipeline.Temperature < 0 {
		return eris.Errorf("config: pipeline.temperature must not be negative, got %g", c.Pipeline.Temperature)
	}
	return nil
}

// ProviderSpecs converts the provider section for llm.Build.
func (c *Config) ProviderSpecs() []llm.Spec {
	specs := make([]llm.Spec, len(c.Providers))
	for i, p := range c.Providers {
		specs[i] = llm.Spec{
			ID:                p.ID,
			Kind:              p.Kind,
			Model:             p.Model,
			BaseURL:           p.BaseURL,
			APIKeyEnv:         p.APIKeyEnv,
			RequestsPerMinute: p.RequestsPerMinute,
			MaxRetries:        p.MaxRetries,
			Responses:         p.Responses,
		}
	}
	return specs
}

// PipelineOptions parses the pipeline section.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	var opts pipeline.Options
	var err error
	if opts.StageTimeout, err = duration("pipeline.stage_timeout", c.Pipeline.StageTimeout); err != nil {
		return opts, err
	}
	if opts.EnsembleTimeout, err = duration("pipeline.ensemble_timeout", c.Pipeline.EnsembleTimeout); err != nil {
		return opts, err
	}
	synthesisTimeout, err := duration("pipeline.synthesis_timeout", c.Pipeline.SynthesisTimeout)
	if err != nil {
		return opts, err
	}
	opts.Stage = stage.Options{
		MaxTokens:          c.Pipeline.MaxTokens,
		SynthesisMaxTokens: c.Pipeline.SynthesisMaxTokens,
		Temperature:        c.Pipeline.Temperature,
		SynthesisTimeout:   synthesisTimeout,
	}
	return opts, nil
}

// CollectOptions parses the sources section.
func (c *Config) CollectOptions() (collect.Options, error) {
	timeout, err := duration("sources.fetch_timeout", c.Sources.FetchTimeout)
	if err != nil {
		return collect.Options{}, err
	}
	opts := collect.Options{
		FetchTimeout: timeout,
		DaysBack:     c.Sources.DaysBack,
	}
	for _, f := range c.Sources.Feeds {
		opts.Feeds = append(opts.Feeds, collect.FeedConfig{URL: f.URL, Name: f.Name})
	}
	if c.Sources.NewsAPI.Enabled {
		opts.NewsAPIKeyEnv = c.Sources.NewsAPI.APIKeyEnv
	}
	return opts, nil
}

func duration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, eris.Wrapf(err, "config: invalid %s", key)
	}
	if d < 0 {
		return 0, eris.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the product store location.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), appName+".db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
