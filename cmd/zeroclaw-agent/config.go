// Package main provides the CLI entry point for the zeroclaw agent runtime.
//
// config.go defines the on-disk YAML configuration and its loader. Unlike
// the gateway's sprawling multi-channel config, this one covers exactly what
// a single agent run needs: security policy, sandbox, e-stop, and providers.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig names one LLM provider/model pairing and its credential.
type ProviderConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// AgentConfig describes one named sub-agent available to the delegate tool.
type AgentConfig struct {
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	APIKey        string   `yaml:"api_key"`
	Temperature   float64  `yaml:"temperature"`
	SystemPrompt  string   `yaml:"system_prompt"`
	Agentic       bool     `yaml:"agentic"`
	AllowedTools  []string `yaml:"allowed_tools"`
	MaxDepth      int      `yaml:"max_depth"`
	MaxIterations int      `yaml:"max_iterations"`
}

// SecurityConfig maps directly onto secpolicy.Policy's constructor inputs.
type SecurityConfig struct {
	Autonomy          string   `yaml:"autonomy"` // "read_only", "supervised", "full"
	AllowedCommands   []string `yaml:"allowed_commands"`
	ForbiddenPaths    []string `yaml:"forbidden_paths"`
	AllowedPaths      []string `yaml:"allowed_paths"`
	AllowedDomains    []string `yaml:"allowed_domains"`
	MaxActionsPerHour uint32   `yaml:"max_actions_per_hour"`
}

// SandboxConfig controls backend probing/forcing (internal/sandbox.Detect).
type SandboxConfig struct {
	Backend string `yaml:"backend"` // forced backend, empty = auto-detect
}

// EstopConfig locates the e-stop state file and its OTP secret.
type EstopConfig struct {
	StateDir string `yaml:"state_dir"`
}

// Config is the full on-disk shape loaded by Load.
type Config struct {
	WorkspaceDir string                    `yaml:"workspace_dir"`
	SystemPrompt string                    `yaml:"system_prompt"`
	MaxTurns     int                       `yaml:"max_turns"`
	MaxTokens    int                       `yaml:"max_tokens"`
	Security     SecurityConfig            `yaml:"security"`
	Sandbox      SandboxConfig             `yaml:"sandbox"`
	Estop        EstopConfig               `yaml:"estop"`
	Provider     ProviderConfig            `yaml:"provider"`
	Agents       map[string]AgentConfig    `yaml:"agents"`
	Memory       struct {
		Path string `yaml:"path"`
	} `yaml:"memory"`
}

// Load reads and parses the YAML config at path, expanding ${VAR}/$VAR
// environment references first so secrets need not live in the file itself.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = "."
	}
	if c.Security.Autonomy == "" {
		c.Security.Autonomy = "supervised"
	}
	if c.Estop.StateDir == "" {
		c.Estop.StateDir = ".zeroclaw"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = ".zeroclaw/memory.db"
	}
}
