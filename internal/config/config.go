// Package config loads the YAML run configuration: simulation settings, the
// oracle backend, and the agents overlaid on a shared agent_base.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/ville/internal/agents"
	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/retry"
)

// Providers names the supported oracle backends.
var Providers = map[string]bool{"anthropic": true, "none": true}

// ErrNoAgents is returned by Validate when the run has nobody to simulate.
var ErrNoAgents = errors.New("config: no agents")

// Sim holds the driver settings.
type Sim struct {
	Name          string `yaml:"name"`
	Start         string `yaml:"start"`  // "20060102-15:04"
	Stride        int    `yaml:"stride"` // simulated minutes per step
	Steps         int    `yaml:"steps"`
	MovePerTick   int    `yaml:"move_per_tick"`
	Seed          int64  `yaml:"seed"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	World         string `yaml:"world"` // bootstrap JSON path; empty generates the demo village
	Port          int    `yaml:"port"`  // 0 disables the status API
	Interval      string `yaml:"interval"`
}

// Retry configures oracle retries.
type Retry struct {
	Attempts  int `yaml:"attempts"`
	BackoffMs int `yaml:"backoff_ms"`
}

// LLM configures the oracle backend.
type LLM struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	MaxPerMin int    `yaml:"max_per_min"`
	Retry     Retry  `yaml:"retry"`
}

// Policy converts the retry settings.
func (l LLM) Policy() retry.Policy {
	return retry.Policy{Attempts: l.Retry.Attempts, Backoff: time.Duration(l.Retry.BackoffMs) * time.Millisecond}
}

// Config is a whole run.
type Config struct {
	Sim       Sim         `yaml:"sim"`
	LLM       LLM         `yaml:"llm"`
	AgentBase yaml.Node   `yaml:"agent_base"`
	Agents    []yaml.Node `yaml:"agents"`
}

// Default returns a config with every setting but the agents filled in.
func Default() *Config {
	return &Config{
		Sim: Sim{
			Name:          "ville",
			Start:         "20240213-09:30",
			Stride:        10,
			Steps:         12,
			Seed:          1,
			CheckpointDir: "checkpoints",
		},
		LLM: LLM{
			Provider:  "anthropic",
			MaxTokens: 512,
			MaxPerMin: 60,
			Retry:     Retry{Attempts: 10, BackoffMs: 5000},
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the run settings and every agent.
func (c *Config) Validate() error {
	if _, err := clock.Parse(c.Sim.Start); err != nil {
		return fmt.Errorf("config: sim.start: %w", err)
	}
	if _, err := c.Interval(); err != nil {
		return fmt.Errorf("config: sim.interval: %w", err)
	}
	switch {
	case c.Sim.Stride <= 0:
		return fmt.Errorf("config: sim.stride must be positive, got %d", c.Sim.Stride)
	case c.Sim.Steps < 0:
		return fmt.Errorf("config: sim.steps must be non-negative, got %d", c.Sim.Steps)
	case c.Sim.MovePerTick < 0:
		return fmt.Errorf("config: sim.move_per_tick must be non-negative, got %d", c.Sim.MovePerTick)
	case c.Sim.Port < 0 || c.Sim.Port > 65535:
		return fmt.Errorf("config: sim.port out of range: %d", c.Sim.Port)
	case !Providers[c.LLM.Provider]:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	case c.LLM.MaxTokens < 0 || c.LLM.MaxPerMin < 0:
		return fmt.Errorf("config: llm limits must be non-negative")
	case c.LLM.Retry.Attempts <= 0:
		return fmt.Errorf("config: llm.retry.attempts must be positive, got %d", c.LLM.Retry.Attempts)
	case c.LLM.Retry.BackoffMs < 0:
		return fmt.Errorf("config: llm.retry.backoff_ms must be non-negative, got %d", c.LLM.Retry.BackoffMs)
	}

	list, err := c.AgentConfigs()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return ErrNoAgents
	}
	seen := make(map[string]bool, len(list))
	for _, a := range list {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Interval is the wall time between steps; empty means as fast as possible.
func (c *Config) Interval() (time.Duration, error) {
	if c.Sim.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Sim.Interval)
}

// AgentConfigs resolves every agent: the built-in defaults, then agent_base,
// then the agent's own entry.
func (c *Config) AgentConfigs() ([]agents.Config, error) {
	out := make([]agents.Config, 0, len(c.Agents))
	for i := range c.Agents {
		cfg := agents.DefaultConfig()
		if !c.AgentBase.IsZero() {
			if err := c.AgentBase.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("config: agent_base: %w", err)
			}
		}
		if err := c.Agents[i].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: agents[%d]: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}
