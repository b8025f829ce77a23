// Package executor runs the bounded tool-use loop between one LLM provider
// and one tool registry (spec §4.1), plus a richer cancellable/streaming
// variant used by delegation (§4.2).
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
)

const (
	// DefaultMaxTurns bounds the tool-use loop (spec §4.1).
	DefaultMaxTurns = 25
	// DefaultMaxTokens is the per-call token budget (spec §4.1).
	DefaultMaxTokens = 4096
)

// Metrics are the executor's prometheus instruments, following the
// teacher's own pattern of package-level counters/histograms registered
// against a provided registerer.
type Metrics struct {
	turns     prometheus.Histogram
	toolCalls prometheus.Counter
	errors    prometheus.Counter
}

// NewMetrics registers the executor's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_executor_turns",
			Help:    "Number of provider turns per executor run.",
			Buckets: prometheus.LinearBuckets(1, 2, 13),
		}),
		toolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_executor_tool_calls_total",
			Help: "Total tool calls dispatched by the executor.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_executor_errors_total",
			Help: "Total executor runs that ended in a provider error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.toolCalls, m.errors)
	}
	return m
}

// Result is the executor's single return value (spec §4.1).
type Result struct {
	Output     string
	Success    bool
	Turns      int
	ToolCalls  int
	DurationMs int64
	Error      string
}

// Options configures one Execute call.
type Options struct {
	Model       string
	Temperature float64
	MaxTurns    int
	MaxTokens   int
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// Execute runs the bounded tool-use loop described in spec §4.1.
func Execute(ctx context.Context, provider agentcore.Provider, tools []agentcore.Tool, systemPrompt, userInput string, opts Options, metrics *Metrics) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

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

	for turn := 1; turn <= opts.MaxTurns; turn++ {
		resp, err := provider.ChatCompletion(ctx, agentcore.ChatCompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        toolSpecs,
			Model:        opts.Model,
			Temperature:  opts.Temperature,
			MaxTokens:    opts.MaxTokens,
		})
		if err != nil {
			if metrics != nil {
				metrics.errors.Inc()
			}
			return Result{}, fmt.Errorf("provider chat completion: %w", err)
		}

		if !resp.HasToolUse() {
			if metrics != nil {
				metrics.turns.Observe(float64(turn))
			}
			return Result{
				Output:     resp.Text(),
				Success:    true,
				Turns:      turn,
				ToolCalls:  toolCallCount,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}

		messages = append(messages, agentcore.ChatMessage{Role: agentcore.RoleAssistant, Blocks: resp.Blocks})

		var resultBlocks []agentcore.ContentBlock
		for _, block := range resp.Blocks {
			if block.Kind != agentcore.BlockToolUse {
				continue
			}
			toolCallCount++
			if metrics != nil {
				metrics.toolCalls.Inc()
			}
			resultBlocks = append(resultBlocks, dispatchToolUse(ctx, toolsByName, block))
		}
		messages = append(messages, agentcore.ChatMessage{Role: agentcore.RoleUser, Blocks: resultBlocks})
	}

	lastText := lastAssistantText(messages)
	if metrics != nil {
		metrics.turns.Observe(float64(opts.MaxTurns))
	}
	return Result{
		Output:     lastText,
		Success:    true,
		Turns:      opts.MaxTurns,
		ToolCalls:  toolCallCount,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      fmt.Sprintf("Agent reached max turns (%d)", opts.MaxTurns),
	}, nil
}

// lastAssistantText scans messages backward and returns the text of the
// last message carrying a non-empty BlockText, instead of assuming the
// literal last message has one — on max-turns exhaustion the literal last
// message is always the just-appended tool-result turn, which never
// carries text.
func lastAssistantText(messages []agentcore.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if text := (agentcore.ChatCompletionResponse{Blocks: messages[i].Blocks}).Text(); text != "" {
			return text
		}
	}
	return ""
}

func dispatchToolUse(ctx context.Context, toolsByName map[string]agentcore.Tool, block agentcore.ContentBlock) agentcore.ContentBlock {
	tool, ok := toolsByName[block.ToolName]
	if !ok {
		return agentcore.ContentBlock{
			Kind:        agentcore.BlockToolResult,
			ResultForID: block.ToolUseID,
			ResultText:  fmt.Sprintf("Unknown tool: %s", block.ToolName),
			IsError:     false,
		}
	}

	result, err := tool.Execute(ctx, block.ToolInput)
	text := toolResultText(result, err)
	return agentcore.ContentBlock{
		Kind:        agentcore.BlockToolResult,
		ResultForID: block.ToolUseID,
		ResultText:  text,
		IsError:     false, // tool error semantics are conveyed via text, not the block flag (spec §4.1 step 2e)
	}
}

func toolResultText(result *agentcore.ToolResult, err error) string {
	if err != nil {
		return fmt.Sprintf("Tool execution error: %v", err)
	}
	if result == nil {
		return "Tool execution error: nil result"
	}
	if !result.Success {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		return fmt.Sprintf("Error: %s", errMsg)
	}
	return result.Output
}
