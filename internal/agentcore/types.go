// Package agentcore defines the shared conversation and tool data model
// used by the executor, the local-tool bridge, and the delegation tool:
// ChatMessage/ContentBlock for provider-agnostic conversation state, and
// the Tool/Provider interfaces every concrete tool and LLM adapter
// implements against.
package agentcore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

// Role identifies who authored a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of conversation state. Content is either plain
// text or a sequence of content blocks (tool use / tool result / text
// interleaved) — never both.
type ChatMessage struct {
	Role   Role           `json:"role"`
	Text   string         `json:"text,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlockKind discriminates ContentBlock's variant.
type ContentBlockKind string

const (
	BlockText       ContentBlockKind = "text"
	BlockToolUse    ContentBlockKind = "tool_use"
	BlockToolResult ContentBlockKind = "tool_result"
)

// ContentBlock is a tagged union over Text/ToolUse/ToolResult, matching
// the wire shape used by both Anthropic- and OpenAI-style tool-calling
// APIs closely enough to convert without loss.
type ContentBlock struct {
	Kind ContentBlockKind `json:"kind"`

	// Text is set when Kind == BlockText.
	Text string `json:"text,omitempty"`

	// ToolUse fields, set when Kind == BlockToolUse.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult fields, set when Kind == BlockToolResult.
	ResultForID string `json:"result_for_id,omitempty"`
	ResultText  string `json:"result_text,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
}

// ToolResult is a tool's outcome, returned to the executor loop and
// ultimately rendered into a ToolResult content block. ErrorKind lets
// callers classify a failure without string-matching Error.
type ToolResult struct {
	Success   bool                `json:"success"`
	Output    string              `json:"output"`
	Error     string              `json:"error,omitempty"`
	ErrorKind secpolicy.ErrorKind `json:"error_kind,omitempty"`
}

// Tool is the contract every built-in and delegated tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

// ToolSpec is the subset of a Tool's identity sent to the provider so it
// can decide when to call it.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// SpecFor builds the wire-visible tool spec list for a slice of tools,
// rejecting any tool whose Schema() is not itself a well-formed JSON
// Schema document — a malformed parameters_schema() is a programming
// error in the tool, not something to surface only when a provider
// happens to reject it at call time.
func SpecFor(tools []Tool) ([]ToolSpec, error) {
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		if err := ValidateToolSchema(t.Name(), t.Schema()); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name(), err)
		}
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return specs, nil
}

// ChatCompletionRequest is one provider.ChatCompletion call.
type ChatCompletionRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Tools        []ToolSpec
	Model        string
	Temperature  float64
	MaxTokens    int
}

// ChatCompletionResponse is a provider's reply: either final text (no tool
// use) or one assistant-turn content-block sequence containing ToolUse
// blocks the executor must dispatch.
type ChatCompletionResponse struct {
	Blocks []ContentBlock
}

// Text concatenates every BlockText in order, the executor's definition of
// "final text" when a response carries no tool-use blocks.
func (r ChatCompletionResponse) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// HasToolUse reports whether the response contains at least one ToolUse
// block, the executor's signal to keep looping rather than return.
func (r ChatCompletionResponse) HasToolUse() bool {
	for _, b := range r.Blocks {
		if b.Kind == BlockToolUse {
			return true
		}
	}
	return false
}

// Provider is the minimal synchronous chat-completion contract the agent
// executor (§4.1) needs from an LLM backend. Concrete adapters (Anthropic,
// OpenAI, and others) live in internal/agent/providers and are wrapped by
// internal/providerbridge to implement this.
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
	Name() string
}
