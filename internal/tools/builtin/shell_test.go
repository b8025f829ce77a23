package builtin

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

func newTestPolicy(t *testing.T, allowedCommands []string) *secpolicy.Policy {
	t.Helper()
	dir := t.TempDir()
	p := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	p.AllowedCommands = allowedCommands
	return p
}

func shellInput(command string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"command": command})
	return raw
}

func TestShellToolName(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"echo"}), nil)
	if tool.Name() != "shell" {
		t.Fatalf("unexpected name: %s", tool.Name())
	}
}

func TestShellExecutesAllowedCommand(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"echo"}), nil)

	r, err := tool.Execute(context.Background(), shellInput("echo hello"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if strings.TrimSpace(r.Output) != "hello" {
		t.Fatalf("unexpected output: %q", r.Output)
	}
}

func TestShellBlocksDisallowedCommand(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"echo"}), nil)

	r, err := tool.Execute(context.Background(), shellInput("rm -rf /"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected denial, got success")
	}
	if r.ErrorKind != secpolicy.ErrorKindPolicyDenied {
		t.Fatalf("expected PolicyDenied, got %q", r.ErrorKind)
	}
}

func TestShellRejectsEmptyCommand(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"echo"}), nil)

	r, err := tool.Execute(context.Background(), shellInput("   "))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success || r.ErrorKind != secpolicy.ErrorKindInvalidInput {
		t.Fatalf("expected invalid-input rejection, got %+v", r)
	}
}

func TestShellDoesNotLeakUnlistedEnvVars(t *testing.T) {
	os.Setenv("ZEROCLAW_TEST_SECRET", "top-secret")
	defer os.Unsetenv("ZEROCLAW_TEST_SECRET")

	tool := NewShellTool(newTestPolicy(t, []string{"env"}), nil)
	r, err := tool.Execute(context.Background(), shellInput("env"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(r.Output, "ZEROCLAW_TEST_SECRET") {
		t.Fatalf("expected secret env var to be filtered out, got output: %q", r.Output)
	}
}

func TestShellPreservesPathAndHome(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"env"}), nil)
	r, err := tool.Execute(context.Background(), shellInput("env"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(r.Output, "PATH=") {
		t.Fatalf("expected PATH to be forwarded, got output: %q", r.Output)
	}
}

func TestShellCapturesNonZeroExit(t *testing.T) {
	tool := NewShellTool(newTestPolicy(t, []string{"false"}), nil)
	r, err := tool.Execute(context.Background(), shellInput("false"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected failure result for nonzero exit")
	}
	if r.ErrorKind != secpolicy.ErrorKindExecutionFailed {
		t.Fatalf("expected ExecutionFailed, got %q", r.ErrorKind)
	}
}
