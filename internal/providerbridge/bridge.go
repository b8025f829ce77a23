// Package providerbridge adapts internal/agent/providers' streaming
// LLMProvider adapters (Anthropic, OpenAI, Bedrock, Azure, Google, Ollama,
// OpenRouter, Copilot Proxy) to the synchronous agentcore.Provider contract
// the executor and delegation tool are built against.
package providerbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agent/providers"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/pkg/models"
)

// Build resolves providerName to a concrete LLMProvider and wraps it in an
// agentcore.Provider, matching internal/delegate.ProviderFactory's shape so
// it can be passed directly as the factory for delegate.New.
func Build(ctx context.Context, providerName, credential string) (agentcore.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	switch name {
	case "anthropic", "claude":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: credential})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return wrap(p), nil
	case "openai", "gpt":
		return wrap(providers.NewOpenAIProvider(credential)), nil
	case "azure", "azure_openai":
		p, err := providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{APIKey: credential})
		if err != nil {
			return nil, fmt.Errorf("azure openai provider: %w", err)
		}
		return wrap(p), nil
	case "bedrock":
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{AccessKeyID: credential})
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		return wrap(p), nil
	case "google", "gemini":
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: credential})
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		return wrap(p), nil
	case "ollama":
		return wrap(providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: credential})), nil
	case "openrouter":
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{APIKey: credential})
		if err != nil {
			return nil, fmt.Errorf("openrouter provider: %w", err)
		}
		return wrap(p), nil
	case "copilot_proxy", "copilot":
		p, err := providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{BaseURL: credential})
		if err != nil {
			return nil, fmt.Errorf("copilot proxy provider: %w", err)
		}
		return wrap(p), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}

// adapter turns a streaming agent.LLMProvider into a synchronous
// agentcore.Provider by draining its channel into one response.
type adapter struct {
	inner agent.LLMProvider
}

func wrap(p agent.LLMProvider) agentcore.Provider {
	return &adapter{inner: p}
}

func (a *adapter) Name() string { return a.inner.Name() }

func (a *adapter) ChatCompletion(ctx context.Context, req agentcore.ChatCompletionRequest) (agentcore.ChatCompletionResponse, error) {
	chunks, err := a.inner.Complete(ctx, &agent.CompletionRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  toCompletionMessages(req.Messages),
		Tools:     toAgentTools(req.Tools),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return agentcore.ChatCompletionResponse{}, err
	}

	var text strings.Builder
	var blocks []agentcore.ContentBlock
	for chunk := range chunks {
		if chunk.Error != nil {
			return agentcore.ChatCompletionResponse{}, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			if text.Len() > 0 {
				blocks = append(blocks, agentcore.ContentBlock{Kind: agentcore.BlockText, Text: text.String()})
				text.Reset()
			}
			blocks = append(blocks, agentcore.ContentBlock{
				Kind:      agentcore.BlockToolUse,
				ToolUseID: chunk.ToolCall.ID,
				ToolName:  chunk.ToolCall.Name,
				ToolInput: chunk.ToolCall.Input,
			})
		}
	}
	if text.Len() > 0 {
		blocks = append(blocks, agentcore.ContentBlock{Kind: agentcore.BlockText, Text: text.String()})
	}
	return agentcore.ChatCompletionResponse{Blocks: blocks}, nil
}

func toCompletionMessages(messages []agentcore.ChatMessage) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := agent.CompletionMessage{Role: string(m.Role), Content: m.Text}
		for _, b := range m.Blocks {
			switch b.Kind {
			case agentcore.BlockText:
				if cm.Content == "" {
					cm.Content = b.Text
				} else {
					cm.Content += b.Text
				}
			case agentcore.BlockToolUse:
				cm.ToolCalls = append(cm.ToolCalls, models.ToolCall{ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
			case agentcore.BlockToolResult:
				cm.ToolResults = append(cm.ToolResults, models.ToolResult{ToolCallID: b.ResultForID, Content: b.ResultText, IsError: b.IsError})
			}
		}
		out = append(out, cm)
	}
	return out
}

// specTool implements agent.Tool using only the identity fields a provider
// needs to build its wire-format tool list; Execute is never invoked by a
// provider and returning an error here would signal a wiring bug if it were.
type specTool struct {
	spec agentcore.ToolSpec
}

func (s specTool) Name() string            { return s.spec.Name }
func (s specTool) Description() string     { return s.spec.Description }
func (s specTool) Schema() json.RawMessage { return s.spec.Schema }
func (s specTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return nil, fmt.Errorf("specTool %q is spec-only and cannot execute", s.spec.Name)
}

func toAgentTools(specs []agentcore.ToolSpec) []agent.Tool {
	out := make([]agent.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, specTool{spec: s})
	}
	return out
}
