// Package config loads startup configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the sqlite file path.
	Path string `yaml:"path"`
	// Connection is the postgres connection string.
	Connection string `yaml:"connection"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Batch switches enrichment to one prompt per batch instead of one
	// call per signal.
	Batch bool `yaml:"batch"`
}

type RunnerConfig struct {
	// Workers caps parallel source fetches. SQLite stores are forced to 1.
	Workers int `yaml:"workers"`
	// PollMinutes is the interval of the background pipeline loop.
	PollMinutes int `yaml:"poll_minutes"`
}

type Config struct {
	DB     DBConfig     `yaml:"db"`
	LLM    LLMConfig    `yaml:"llm"`
	Runner RunnerConfig `yaml:"runner"`
	Addr   string       `yaml:"addr"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config usable without a file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "signalpipe.db"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("LLM_BASE_URL")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.Runner.Workers <= 0 {
		c.Runner.Workers = 1
	}
	if c.Runner.Workers > 8 {
		c.Runner.Workers = 8
	}
	if c.Runner.PollMinutes < 15 {
		c.Runner.PollMinutes = 15
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}
