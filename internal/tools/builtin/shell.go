// Package builtin implements the core tool surface (spec §4.9): shell,
// file read/write/edit, glob search, memory store/recall/forget, and
// domain-validated HTTP/browser tools.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/sandbox"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

const (
	shellTimeout     = 60 * time.Second
	maxOutputBytes   = 1024 * 1024
	shellToolName    = "shell"
	shellDescription = "Execute a shell command in the workspace directory"
)

// safeEnvVars are the only environment variables forwarded to the child
// shell; everything else is cleared so secrets never leak into tool output
// (CWE-200).
var safeEnvVars = []string{"PATH", "HOME", "TERM", "LANG", "LC_ALL", "LC_CTYPE", "USER", "SHELL", "TMPDIR"}

// ShellTool runs a command through sh -c inside the workspace, optionally
// wrapped by a sandbox backend.
type ShellTool struct {
	security *secpolicy.Policy
	wrapper  sandbox.Wrapper
}

// NewShellTool builds a ShellTool. wrapper may be nil (no sandboxing).
func NewShellTool(security *secpolicy.Policy, wrapper sandbox.Wrapper) *ShellTool {
	return &ShellTool{security: security, wrapper: wrapper}
}

func (t *ShellTool) Name() string        { return shellToolName }
func (t *ShellTool) Description() string { return shellDescription }

func (t *ShellTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
		},
		"required": []string{"command"},
	})
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agentcore.ToolResult{Success: false, Error: fmt.Sprintf("invalid input: %v", err), ErrorKind: secpolicy.ErrorKindInvalidInput}, nil
	}
	if strings.TrimSpace(params.Command) == "" {
		return &agentcore.ToolResult{Success: false, Error: "Missing 'command' parameter", ErrorKind: secpolicy.ErrorKindInvalidInput}, nil
	}

	if !t.security.IsCommandAllowed(params.Command) {
		return &agentcore.ToolResult{
			Success: false, ErrorKind: secpolicy.ErrorKindPolicyDenied,
			Error: fmt.Sprintf("Command not allowed by security policy: %s", params.Command),
		}, nil
	}

	wrapped := sandbox.Command{Path: "sh", Args: []string{"-c", params.Command}}
	if t.wrapper != nil {
		w, err := t.wrapper.Wrap(wrapped, t.security.WorkspaceDir)
		if err != nil {
			return &agentcore.ToolResult{Success: false, Error: fmt.Sprintf("Failed to prepare sandbox: %v", err), ErrorKind: secpolicy.ErrorKindExecutionFailed}, nil
		}
		wrapped = w
	}

	cmd := exec.Command(wrapped.Path, wrapped.Args...)
	cmd.Dir = t.security.WorkspaceDir
	cmd.Env = filteredEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	if err := cmd.Start(); err != nil {
		return &agentcore.ToolResult{Success: false, Error: fmt.Sprintf("Failed to execute command: %v", err), ErrorKind: secpolicy.ErrorKindExecutionFailed}, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		<-done
		return &agentcore.ToolResult{
			Success: false, ErrorKind: secpolicy.ErrorKindTimeout,
			Error: fmt.Sprintf("Command timed out after %ds and was killed", int(shellTimeout.Seconds())),
		}, nil
	case err := <-done:
		outText := truncateAtBoundary(stdout.String(), maxOutputBytes, "\n... [output truncated at 1MB]")
		errText := truncateAtBoundary(stderr.String(), maxOutputBytes, "\n... [stderr truncated at 1MB]")
		success := err == nil
		result := &agentcore.ToolResult{Success: success, Output: outText}
		if errText != "" {
			result.Error = errText
		}
		if !success {
			result.ErrorKind = secpolicy.ErrorKindExecutionFailed
		}
		return result, nil
	}
}

func filteredEnv() []string {
	env := make([]string, 0, len(safeEnvVars))
	for _, key := range safeEnvVars {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// truncateAtBoundary truncates s to at most limit bytes, backing off to the
// nearest UTF-8 character boundary, and appends suffix when truncated.
func truncateAtBoundary(s string, limit int, suffix string) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
