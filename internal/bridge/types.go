// Package bridge tunnels eligible tool invocations to a remote operator
// process over WebSocket, with exactly-once semantics per request_id, ack
// and result timeouts, and approval gating for high-risk operations.
package bridge

import (
	"encoding/json"
	"time"
)

const (
	// ackTimeout bounds how long the bridge waits for a connected client to
	// acknowledge a request before giving up.
	ackTimeout = 3 * time.Second
	// resultTimeout bounds how long the bridge waits for the client to
	// report a result after accepting the request.
	resultTimeout = 70 * time.Second
	// approvalWait is the total budget for polling a pending approval row.
	approvalWait = 45 * time.Second
	// approvalPollInterval is how often the approval row is re-checked.
	approvalPollInterval = 250 * time.Millisecond
)

// eligibleTools is the fixed set of tool names the bridge handles; any other
// tool name is left to the in-process registry.
var eligibleTools = map[string]struct{}{
	"shell":      {},
	"file_read":  {},
	"file_write": {},
}

// Eligible reports whether toolName should be routed through the bridge.
func Eligible(toolName string) bool {
	_, ok := eligibleTools[toolName]
	return ok
}

// ToolCall is the tool invocation being tunneled.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Policy mirrors the subset of the security policy the remote operator
// process needs to enforce the same constraints locally.
type Policy struct {
	WorkspaceRoot   string   `json:"workspace_root"`
	WorkspaceOnly   bool     `json:"workspace_only"`
	AllowedCommands []string `json:"allowed_commands,omitempty"`
	ForbiddenPaths  []string `json:"forbidden_paths,omitempty"`
	TimeoutMs       int      `json:"timeout_ms"`
	MaxOutputBytes  int      `json:"max_output_bytes"`
}

// DefaultPolicy returns the spec's default timeout/output-cap values with
// the given workspace fields filled in.
func DefaultPolicy(workspaceRoot string, workspaceOnly bool, allowedCommands, forbiddenPaths []string) Policy {
	return Policy{
		WorkspaceRoot:   workspaceRoot,
		WorkspaceOnly:   workspaceOnly,
		AllowedCommands: allowedCommands,
		ForbiddenPaths:  forbiddenPaths,
		TimeoutMs:       60000,
		MaxOutputBytes:  1 << 20,
	}
}

// Approval describes the gating applied to a request.
type Approval struct {
	Mode string `json:"mode"` // "auto" | "require_user"
	Risk string `json:"risk"` // "low" | "high"
}

// RequestEnvelope is the "local_tool.request" WebSocket message.
type RequestEnvelope struct {
	Type     string    `json:"type"`
	Request  string    `json:"request_id"`
	RunID    string    `json:"run_id"`
	ChatID   string    `json:"chat_id"`
	TenantID string    `json:"tenant_id"`
	ToolCall ToolCall  `json:"tool_call"`
	Policy   Policy    `json:"policy"`
	Approval Approval  `json:"approval"`
	SentAt   time.Time `json:"sent_at"`
}

// AckEnvelope is the "local_tool.ack" WebSocket message.
type AckEnvelope struct {
	Type     string `json:"type"`
	Request  string `json:"request_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ResultStatus is the tool_call.status field of a result envelope.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ResultEnvelope is the "local_tool.result" WebSocket message.
type ResultEnvelope struct {
	Type     string       `json:"type"`
	Request  string       `json:"request_id"`
	RunID    string       `json:"run_id"`
	ChatID   string       `json:"chat_id"`
	ToolCall ResultCall   `json:"tool_call"`
	Exec     ResultExec   `json:"execution"`
}

// ResultCall is the tool_call sub-object of a result envelope.
type ResultCall struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Status      ResultStatus `json:"status"`
	DurationMs  int64        `json:"duration"`
	Result      string       `json:"result"`
	CompletedAt time.Time    `json:"completed_at"`
}

// ResultExec is the execution sub-object of a result envelope.
type ResultExec struct {
	ExitCode     *int `json:"exit_code,omitempty"`
	TimedOut     bool `json:"timed_out"`
	Truncated    bool `json:"truncated"`
	PolicyDenied bool `json:"policy_denied"`
}
