package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

// ExternalExecutor intercepts a tool dispatch before the in-process
// registry runs it — e.g. the local-tool bridge (§4.3). Returning a nil
// result (with nil error) means "not handled, fall through to the
// registry"; a non-nil result is used as-is.
type ExternalExecutor func(ctx context.Context, toolName string, input []byte) (*agentcore.ToolResult, error)

// LoopOptions extends Options with the richer §4.2 controls needed by
// delegation: cancellation, streaming deltas, and an external-executor
// interception hook.
type LoopOptions struct {
	Options
	Cancelled func() bool
	OnDelta   func(text string)
	External  ExternalExecutor
}

// lastDenial tracks consecutive PolicyDenied results per tool name so two
// in a row trigger the reflection message required by spec §4.2.
type lastDenial struct {
	toolName string
	count    int
}

// RunLoop is the §4.2 variant of Execute: same state machine, plus
// cancellation-token checks before each tool dispatch, an external
// executor that may intercept bridge-eligible tools, and a reflection
// message injected after two consecutive PolicyDenied results for the
// same tool.
func RunLoop(ctx context.Context, provider agentcore.Provider, tools []agentcore.Tool, systemPrompt, userInput string, opts LoopOptions) (Result, error) {
	opts.Options = opts.Options.withDefaults()

	toolsByName := make(map[string]agentcore.Tool, len(tools))
	for _, t := range tools {
		toolsByName[t.Name()] = t
	}
	toolSpecs, err := agentcore.SpecFor(tools)
	if err != nil {
		return Result{}, fmt.Errorf("build tool specs: %w", err)
	}

	messages := []agentcore.ChatMessage{{Role: agentcore.RoleUser, Text: userInput}}
	toolCallCount := 0
	var denial lastDenial

	for turn := 1; turn <= opts.MaxTurns; turn++ {
		if opts.Cancelled != nil && opts.Cancelled() {
			return Result{Output: "cancelled", Success: true, Turns: turn, ToolCalls: toolCallCount}, nil
		}

		resp, err := provider.ChatCompletion(ctx, agentcore.ChatCompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        toolSpecs,
			Model:        opts.Model,
			Temperature:  opts.Temperature,
			MaxTokens:    opts.MaxTokens,
		})
		if err != nil {
			return Result{}, fmt.Errorf("provider chat completion: %w", err)
		}
		if opts.OnDelta != nil {
			if text := resp.Text(); text != "" {
				opts.OnDelta(text)
			}
		}

		if !resp.HasToolUse() {
			return Result{
				Output:    resp.Text(),
				Success:   true,
				Turns:     turn,
				ToolCalls: toolCallCount,
			}, nil
		}

		messages = append(messages, agentcore.ChatMessage{Role: agentcore.RoleAssistant, Blocks: resp.Blocks})

		var resultBlocks []agentcore.ContentBlock
		for _, block := range resp.Blocks {
			if block.Kind != agentcore.BlockToolUse {
				continue
			}
			if opts.Cancelled != nil && opts.Cancelled() {
				return Result{Output: "cancelled", Success: true, Turns: turn, ToolCalls: toolCallCount}, nil
			}
			toolCallCount++

			resultBlock, _ := dispatchWithExternal(ctx, toolsByName, opts.External, block)
			resultBlocks = append(resultBlocks, resultBlock)
		}

		messages = append(messages, agentcore.ChatMessage{Role: agentcore.RoleUser, Blocks: resultBlocks})
		if msg, ok := reflectionFor(&denial, resultBlocks, resp); ok {
			messages = append(messages, agentcore.ChatMessage{Role: agentcore.RoleUser, Text: msg})
		}
	}

	lastText := lastAssistantText(messages)
	return Result{
		Output:    lastText,
		Success:   true,
		Turns:     opts.MaxTurns,
		ToolCalls: toolCallCount,
		Error:     fmt.Sprintf("Agent reached max turns (%d)", opts.MaxTurns),
	}, nil
}

// dispatchWithExternal gives the external executor first refusal on a
// tool-use block; if it declines (nil, nil), the in-process registry
// handles it as in Execute.
func dispatchWithExternal(ctx context.Context, toolsByName map[string]agentcore.Tool, external ExternalExecutor, block agentcore.ContentBlock) (agentcore.ContentBlock, secpolicy.ErrorKind) {
	if external != nil {
		result, err := external(ctx, block.ToolName, block.ToolInput)
		if err != nil {
			return agentcore.ContentBlock{
				Kind:        agentcore.BlockToolResult,
				ResultForID: block.ToolUseID,
				ResultText:  fmt.Sprintf("Tool execution error: %v", err),
			}, secpolicy.ErrorKindExecutionFailed
		}
		if result != nil {
			return agentcore.ContentBlock{
				Kind:        agentcore.BlockToolResult,
				ResultForID: block.ToolUseID,
				ResultText:  toolResultText(result, nil),
			}, result.ErrorKind
		}
		// external declined; fall through to the in-process registry
	}

	resultBlock := dispatchToolUse(ctx, toolsByName, block)
	return resultBlock, ""
}

// reflectionFor detects two consecutive PolicyDenied results for the same
// tool name across turns and returns the reflection message to inject.
// Because content blocks don't carry ErrorKind directly (only text), this
// relies on the textual "policy_denied"/"PolicyDenied" marker convention
// used by tools and the bridge when rendering a denial into result text.
func reflectionFor(denial *lastDenial, resultBlocks []agentcore.ContentBlock, resp agentcore.ChatCompletionResponse) (string, bool) {
	for _, block := range resultBlocks {
		if block.Kind != agentcore.BlockToolResult {
			continue
		}
		toolName := toolNameForResult(resp, block.ResultForID)
		if isPolicyDeniedText(block.ResultText) {
			if denial.toolName == toolName {
				denial.count++
			} else {
				denial.toolName = toolName
				denial.count = 1
			}
			if denial.count >= 2 {
				denial.count = 0
				return fmt.Sprintf("the last two calls to %s were policy-denied; change approach", toolName), true
			}
		} else if denial.toolName == toolName {
			denial.count = 0
		}
	}
	return "", false
}

func toolNameForResult(resp agentcore.ChatCompletionResponse, toolUseID string) string {
	for _, b := range resp.Blocks {
		if b.Kind == agentcore.BlockToolUse && b.ToolUseID == toolUseID {
			return b.ToolName
		}
	}
	return ""
}

func isPolicyDeniedText(text string) bool {
	return strings.Contains(text, "policy_denied") || strings.Contains(strings.ToLower(text), "policy denied")
}
