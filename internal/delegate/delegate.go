// Package delegate implements the delegate tool: handing a subtask off to a
// named sub-agent that may run a different provider/model, optionally with
// its own bounded tool-call loop (spec §4.8).
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/executor"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

const (
	// simpleTimeout bounds a non-agentic sub-agent's single prompt/response call.
	simpleTimeout = 120 * time.Second
	// agenticTimeout bounds a sub-agent running its own tool-call loop.
	agenticTimeout = 300 * time.Second
)

// AgentConfig describes one named sub-agent a DelegateTool can hand work to.
type AgentConfig struct {
	Provider      string
	Model         string
	APIKey        string
	Temperature   float64
	SystemPrompt  string
	Agentic       bool
	AllowedTools  []string
	MaxDepth      int
	MaxIterations int
}

// ProviderFactory builds the provider a given agent config names, using
// either the agent's own credential or the tool's fallback.
type ProviderFactory func(ctx context.Context, providerName, credential string) (agentcore.Provider, error)

// Tool delegates a subtask to a named agent. Each instance is immutable
// after construction; WithDepth/WithParentTools return new instances for
// sub-agent recursion rather than mutating the parent's.
type Tool struct {
	agents             map[string]AgentConfig
	security           *secpolicy.Policy
	fallbackCredential string
	factory            ProviderFactory
	depth              int
	parentTools        []agentcore.Tool
	metrics            *executor.Metrics
}

// New creates a root-level DelegateTool at depth 0 with no parent tool
// registry (agentic sub-agents need WithParentTools to have anything to
// filter from).
func New(agents map[string]AgentConfig, fallbackCredential string, security *secpolicy.Policy, factory ProviderFactory) *Tool {
	return &Tool{
		agents:             agents,
		security:           security,
		fallbackCredential: fallbackCredential,
		factory:            factory,
	}
}

// WithDepth returns a copy of t for use by a sub-agent one level deeper in
// the delegation chain.
func (t *Tool) WithDepth(depth int) *Tool {
	clone := *t
	clone.depth = depth
	return &clone
}

// WithParentTools attaches the registry agentic sub-agents select a
// filtered subset from.
func (t *Tool) WithParentTools(tools []agentcore.Tool) *Tool {
	clone := *t
	clone.parentTools = tools
	return &clone
}

// WithMetrics attaches executor metrics for agentic sub-agent runs.
func (t *Tool) WithMetrics(m *executor.Metrics) *Tool {
	clone := *t
	clone.metrics = m
	return &clone
}

func (t *Tool) Name() string { return "delegate" }

func (t *Tool) Description() string {
	return "Delegate a subtask to a specialized agent. Use when a task benefits from a different " +
		"model (e.g. fast summarization, deep reasoning, code generation). Agents configured with " +
		"agentic=true run a full tool-call loop; others run a single prompt and return their response."
}

func (t *Tool) Schema() json.RawMessage {
	names := make([]string, 0, len(t.agents))
	for name := range t.agents {
		names = append(names, name)
	}
	available := "(none configured)"
	if len(names) > 0 {
		available = strings.Join(names, ", ")
	}
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"agent": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": fmt.Sprintf("Name of the agent to delegate to. Available: %s", available),
			},
			"prompt": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The task/prompt to send to the sub-agent",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Optional context to prepend (e.g. relevant code, prior findings)",
			},
		},
		"required": []string{"agent", "prompt"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

type delegateInput struct {
	Agent   string `json:"agent"`
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
}

func fail(msg string) (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: false, Error: msg}, nil
}

func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params delegateInput
	if err := json.Unmarshal(input, &params); err != nil {
		return fail(fmt.Sprintf("invalid input: %v", err))
	}

	agentName := strings.TrimSpace(params.Agent)
	if agentName == "" {
		return fail("'agent' parameter must not be empty")
	}
	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		return fail("'prompt' parameter must not be empty")
	}
	taskContext := strings.TrimSpace(params.Context)

	cfg, ok := t.agents[agentName]
	if !ok {
		names := make([]string, 0, len(t.agents))
		for name := range t.agents {
			names = append(names, name)
		}
		available := "(none configured)"
		if len(names) > 0 {
			available = strings.Join(names, ", ")
		}
		return fail(fmt.Sprintf("Unknown agent '%s'. Available agents: %s", agentName, available))
	}

	if t.depth >= cfg.MaxDepth {
		return fail(fmt.Sprintf(
			"Delegation depth limit reached (%d/%d). Cannot delegate further to prevent infinite loops.",
			t.depth, cfg.MaxDepth,
		))
	}

	if t.security != nil {
		if err := t.security.Authorize("delegate"); err != nil {
			return &agentcore.ToolResult{Success: false, Error: err.Error(), ErrorKind: secpolicy.ErrorKindPolicyDenied}, nil
		}
	}

	credential := cfg.APIKey
	if credential == "" {
		credential = t.fallbackCredential
	}
	provider, err := t.factory(ctx, cfg.Provider, credential)
	if err != nil {
		return fail(fmt.Sprintf("Failed to create provider '%s' for agent '%s': %v", cfg.Provider, agentName, err))
	}

	fullPrompt := prompt
	if taskContext != "" {
		fullPrompt = fmt.Sprintf("[Context]\n%s\n\n[Task]\n%s", taskContext, prompt)
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	if cfg.Agentic && len(cfg.AllowedTools) > 0 {
		return t.executeAgentic(ctx, agentName, cfg, provider, fullPrompt, temperature)
	}
	return t.executeSimple(ctx, agentName, cfg, provider, fullPrompt, temperature)
}

func (t *Tool) executeSimple(ctx context.Context, agentName string, cfg AgentConfig, provider agentcore.Provider, fullPrompt string, temperature float64) (*agentcore.ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, simpleTimeout)
	defer cancel()

	resp, err := provider.ChatCompletion(callCtx, agentcore.ChatCompletionRequest{
		SystemPrompt: cfg.SystemPrompt,
		Messages:     []agentcore.ChatMessage{{Role: agentcore.RoleUser, Text: fullPrompt}},
		Model:        cfg.Model,
		Temperature:  temperature,
	})
	if callCtx.Err() != nil {
		return fail(fmt.Sprintf("Agent '%s' timed out after %ds", agentName, int(simpleTimeout.Seconds())))
	}
	if err != nil {
		return fail(fmt.Sprintf("Agent '%s' failed: %v", agentName, err))
	}

	rendered := resp.Text()
	if strings.TrimSpace(rendered) == "" {
		rendered = "[Empty response]"
	}
	return &agentcore.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("[Agent '%s' (%s/%s)]\n%s", agentName, cfg.Provider, cfg.Model, rendered),
	}, nil
}

func (t *Tool) executeAgentic(ctx context.Context, agentName string, cfg AgentConfig, provider agentcore.Provider, fullPrompt string, temperature float64) (*agentcore.ToolResult, error) {
	allowed := make(map[string]struct{}, len(cfg.AllowedTools))
	for _, name := range cfg.AllowedTools {
		allowed[name] = struct{}{}
	}

	subTools := make([]agentcore.Tool, 0, len(t.parentTools))
	for _, tool := range t.parentTools {
		if tool.Name() == "delegate" {
			// excluded to prevent re-entrant delegation from the sub-agent;
			// depth limiting already guards against infinite recursion, but
			// this avoids confusion about which agent is acting.
			continue
		}
		if _, ok := allowed[tool.Name()]; ok {
			subTools = append(subTools, tool)
		}
	}

	if len(subTools) == 0 {
		return fail(fmt.Sprintf(
			"Agent '%s' has agentic=true but none of the allowed_tools (%s) are available in the parent tool registry",
			agentName, strings.Join(cfg.AllowedTools, ", "),
		))
	}

	callCtx, cancel := context.WithTimeout(ctx, agenticTimeout)
	defer cancel()

	maxTurns := cfg.MaxIterations
	if maxTurns <= 0 {
		maxTurns = executor.DefaultMaxTurns
	}

	result, err := executor.Execute(callCtx, provider, subTools, cfg.SystemPrompt, fullPrompt, executor.Options{
		Model:       cfg.Model,
		Temperature: temperature,
		MaxTurns:    maxTurns,
	}, t.metrics)
	if callCtx.Err() != nil {
		return fail(fmt.Sprintf("Agent '%s' timed out after %ds", agentName, int(agenticTimeout.Seconds())))
	}
	if err != nil {
		return fail(fmt.Sprintf("Agent '%s' failed: %v", agentName, err))
	}

	rendered := result.Output
	if strings.TrimSpace(rendered) == "" {
		rendered = "[Empty response]"
	}
	return &agentcore.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("[Agent '%s' (%s/%s, agentic)]\n%s", agentName, cfg.Provider, cfg.Model, rendered),
	}, nil
}
