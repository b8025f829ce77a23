// run.go implements the "run" command: a single-shot invocation of the
// bounded tool-use loop (spec §4.1) against whichever provider/model the
// config names, with the full built-in tool set plus delegation wired in.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/delegate"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/estop"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/executor"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/observability"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/providerbridge"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/sandbox"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secrets"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/tools/builtin"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		prompt     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one bounded tool-use turn against the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), configPath, prompt)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "zeroclaw-agent.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "The task to hand the agent")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

func runOnce(ctx context.Context, configPath, prompt string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})

	workspaceDir, err := filepath.Abs(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}

	if err := checkEstop(workspaceDir, cfg); err != nil {
		return err
	}

	policy := secpolicy.New(secpolicy.Autonomy(cfg.Security.Autonomy), workspaceDir, cfg.Security.MaxActionsPerHour)
	policy.AllowedCommands = cfg.Security.AllowedCommands
	policy.ForbiddenPaths = cfg.Security.ForbiddenPaths
	policy.AllowedPathEntries = cfg.Security.AllowedPaths
	policy.AllowedDomains = cfg.Security.AllowedDomains

	var forcedBackend sandbox.Backend
	if cfg.Sandbox.Backend != "" {
		forcedBackend = sandbox.Backend(cfg.Sandbox.Backend)
	}
	wrapper := sandbox.Detect(forcedBackend)
	logger.Info(ctx, "sandbox backend selected", "backend", string(wrapper.Backend()))

	if dir := filepath.Dir(cfg.Memory.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}
	}
	memory, err := builtin.NewMemoryStore(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	agentTools := []agentcore.Tool{
		builtin.NewShellTool(policy, wrapper),
		builtin.NewFileReadTool(policy),
		builtin.NewFileWriteTool(policy),
		builtin.NewFileEditTool(policy),
		builtin.NewGlobSearchTool(policy),
		builtin.NewHTTPRequestTool(policy, ""),
		builtin.NewWebFetchTool(policy),
		builtin.NewBrowserOpenTool(policy),
		builtin.NewMemoryStoreTool(memory, policy, func() int64 { return time.Now().Unix() }),
		builtin.NewMemoryRecallTool(memory, policy),
		builtin.NewMemoryForgetTool(memory, policy),
	}

	agentConfigs := make(map[string]delegate.AgentConfig, len(cfg.Agents))
	for name, a := range cfg.Agents {
		agentConfigs[name] = delegate.AgentConfig{
			Provider:      a.Provider,
			Model:         a.Model,
			APIKey:        a.APIKey,
			Temperature:   a.Temperature,
			SystemPrompt:  a.SystemPrompt,
			Agentic:       a.Agentic,
			AllowedTools:  a.AllowedTools,
			MaxDepth:      a.MaxDepth,
			MaxIterations: a.MaxIterations,
		}
	}
	if len(agentConfigs) > 0 {
		delegateTool := delegate.New(agentConfigs, cfg.Provider.APIKey, policy, providerbridge.Build).WithParentTools(agentTools)
		agentTools = append(agentTools, delegateTool)
	}

	provider, err := providerbridge.Build(ctx, cfg.Provider.Provider, cfg.Provider.APIKey)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	metrics := executor.NewMetrics(prometheus.DefaultRegisterer)
	result, err := executor.Execute(ctx, provider, agentTools, cfg.SystemPrompt, prompt, executor.Options{
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTurns:    cfg.MaxTurns,
		MaxTokens:   cfg.MaxTokens,
	}, metrics)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	fmt.Println(result.Output)
	if !result.Success {
		return fmt.Errorf("run did not complete successfully: %s", result.Error)
	}
	return nil
}

// checkEstop refuses to start a run if the persisted estop state is already
// engaged with kill-all, matching spec §4.5's fail-closed posture.
func checkEstop(workspaceDir string, cfg *Config) error {
	if err := os.MkdirAll(cfg.Estop.StateDir, 0o700); err != nil {
		return fmt.Errorf("create estop state dir: %w", err)
	}
	store := secrets.New(cfg.Estop.StateDir, true)
	otp, _, err := estop.NewOtpValidator(store, cfg.Estop.StateDir, "estop")
	if err != nil {
		return fmt.Errorf("init otp validator: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	manager, _, err := estop.Load(filepath.Join(cfg.Estop.StateDir, "estop-state.json"), otp, logger)
	if err != nil {
		return fmt.Errorf("load estop state: %w", err)
	}
	return manager.CheckTool("run")
}
