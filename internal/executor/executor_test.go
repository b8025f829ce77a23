package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

// fakeProvider replays a fixed sequence of responses, one per call.
type fakeProvider struct {
	responses []agentcore.ChatCompletionResponse
	calls     int
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, req agentcore.ChatCompletionRequest) (agentcore.ChatCompletionResponse, error) {
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func textResponse(text string) agentcore.ChatCompletionResponse {
	return agentcore.ChatCompletionResponse{Blocks: []agentcore.ContentBlock{{Kind: agentcore.BlockText, Text: text}}}
}

func toolUseResponse(id, name string) agentcore.ChatCompletionResponse {
	return agentcore.ChatCompletionResponse{Blocks: []agentcore.ContentBlock{{
		Kind: agentcore.BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: json.RawMessage(`{}`),
	}}}
}

// interleavedResponse carries both a text block and a tool-use block in
// the same assistant turn, as a real model reply narrating before calling
// a tool would.
func interleavedResponse(text, id, name string) agentcore.ChatCompletionResponse {
	return agentcore.ChatCompletionResponse{Blocks: []agentcore.ContentBlock{
		{Kind: agentcore.BlockText, Text: text},
		{Kind: agentcore.BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: json.RawMessage(`{}`)},
	}}
}

// echoTool always succeeds, returning its input as output.
type echoTool struct{ name string }

func (t echoTool) Name() string                 { return t.name }
func (t echoTool) Description() string          { return "echoes" }
func (t echoTool) Schema() json.RawMessage       { return json.RawMessage(`{}`) }
func (t echoTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: true, Output: "echo:" + string(input)}, nil
}

// denyingTool always returns a policy-denied failure.
type denyingTool struct{ name string }

func (t denyingTool) Name() string           { return t.name }
func (t denyingTool) Description() string    { return "denies" }
func (t denyingTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (t denyingTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: false, Error: "policy_denied: nope", ErrorKind: secpolicy.ErrorKindPolicyDenied}, nil
}

func TestExecuteReturnsImmediatelyWhenNoToolUse(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{textResponse("hello there")}}
	result, err := Execute(context.Background(), provider, nil, "sys", "hi", Options{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "hello there" || result.Turns != 1 || result.ToolCalls != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteDispatchesToolAndLoopsToFinalText(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "echo"),
		textResponse("done"),
	}}
	tools := []agentcore.Tool{echoTool{name: "echo"}}

	result, err := Execute(context.Background(), provider, tools, "sys", "hi", Options{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "done" || result.Turns != 2 || result.ToolCalls != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteUnknownToolReturnsErrorText(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "nonexistent"),
		textResponse("ok"),
	}}
	result, err := Execute(context.Background(), provider, nil, "sys", "hi", Options{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "ok" {
		t.Fatalf("expected loop to continue after unknown-tool error, got %+v", result)
	}
}

func TestExecuteStopsAtMaxTurns(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{toolUseResponse("call-1", "echo")}}
	tools := []agentcore.Tool{echoTool{name: "echo"}}

	result, err := Execute(context.Background(), provider, tools, "sys", "hi", Options{MaxTurns: 3}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Turns != 3 {
		t.Fatalf("expected exactly MaxTurns turns, got %d", result.Turns)
	}
	if result.Error == "" {
		t.Fatal("expected a max-turns error message")
	}
}

// TestExecuteStopsAtMaxTurnsPreservesLastAssistantText asserts that max-turns
// exhaustion returns the most recent assistant-authored text, not the
// literal last message — which on exhaustion is always the tool-result
// turn appended after the final tool_use and so never carries text.
func TestExecuteStopsAtMaxTurnsPreservesLastAssistantText(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "echo"),
		interleavedResponse("partial-info", "call-2", "echo"),
		toolUseResponse("call-3", "echo"),
	}}
	tools := []agentcore.Tool{echoTool{name: "echo"}}

	result, err := Execute(context.Background(), provider, tools, "sys", "hi", Options{MaxTurns: 3}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "partial-info" {
		t.Fatalf("expected last interleaved assistant text to survive max-turns exhaustion, got %q", result.Output)
	}
}

func TestRunLoopStopsWhenCancelled(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{toolUseResponse("call-1", "echo")}}
	tools := []agentcore.Tool{echoTool{name: "echo"}}

	cancelled := true
	result, err := RunLoop(context.Background(), provider, tools, "sys", "hi", LoopOptions{
		Cancelled: func() bool { return cancelled },
	})
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Output != "cancelled" {
		t.Fatalf("expected cancellation to short-circuit, got %+v", result)
	}
	if provider.calls != 0 {
		t.Fatalf("provider should never have been called, got %d calls", provider.calls)
	}
}

func TestRunLoopUsesExternalExecutorWhenItHandlesTheCall(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "shell"),
		textResponse("done"),
	}}

	external := func(ctx context.Context, toolName string, input []byte) (*agentcore.ToolResult, error) {
		if toolName == "shell" {
			return &agentcore.ToolResult{Success: true, Output: "handled-by-bridge"}, nil
		}
		return nil, nil
	}

	result, err := RunLoop(context.Background(), provider, nil, "sys", "hi", LoopOptions{External: external})
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Output != "done" || result.ToolCalls != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunLoopFallsThroughToRegistryWhenExternalDeclines(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "echo"),
		textResponse("done"),
	}}
	tools := []agentcore.Tool{echoTool{name: "echo"}}

	external := func(ctx context.Context, toolName string, input []byte) (*agentcore.ToolResult, error) {
		return nil, nil // always declines
	}

	result, err := RunLoop(context.Background(), provider, tools, "sys", "hi", LoopOptions{External: external})
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Output != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunLoopInjectsReflectionAfterTwoConsecutivePolicyDenials(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{
		toolUseResponse("call-1", "denied"),
		toolUseResponse("call-2", "denied"),
		textResponse("giving up"),
	}}
	tools := []agentcore.Tool{denyingTool{name: "denied"}}

	result, err := RunLoop(context.Background(), provider, tools, "sys", "hi", LoopOptions{})
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Output != "giving up" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Turns != 3 {
		t.Fatalf("expected the reflection turn to still count toward Turns, got %d", result.Turns)
	}
}

func TestRunLoopReportsDeltasViaOnDelta(t *testing.T) {
	provider := &fakeProvider{responses: []agentcore.ChatCompletionResponse{textResponse("streamed text")}}

	var seen string
	result, err := RunLoop(context.Background(), provider, nil, "sys", "hi", LoopOptions{
		OnDelta: func(text string) { seen += text },
	})
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if seen != "streamed text" || result.Output != "streamed text" {
		t.Fatalf("expected delta callback to fire with final text, got seen=%q result=%+v", seen, result)
	}
}
