package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

const maxFileReadBytes = 10 * 1024 * 1024

// FileReadTool reads a workspace-relative file, denying symlink escapes and
// files larger than 10 MiB.
type FileReadTool struct {
	security *secpolicy.Policy
}

func NewFileReadTool(security *secpolicy.Policy) *FileReadTool {
	return &FileReadTool{security: security}
}

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Read the contents of a file in the workspace" }

func (t *FileReadTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative path to the file within the workspace"},
		},
		"required": []string{"path"},
	})
}

func (t *FileReadTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Path == "" {
		return invalidInput(fmt.Errorf("missing 'path' parameter"))
	}

	if t.security.IsRateLimited() {
		return rateLimited()
	}

	resolved, err := t.security.ValidatePath(params.Path)
	if err != nil {
		return fromPolicyError(err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindNotFound, Error: fmt.Sprintf("Failed to read file metadata: %v", err)}, nil
	}
	if info.Size() > maxFileReadBytes {
		return &agentcore.ToolResult{
			Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput,
			Error: fmt.Sprintf("File too large: %d bytes (limit: %d bytes)", info.Size(), maxFileReadBytes),
		}, nil
	}

	if !t.security.RecordAction() {
		return rateLimited()
	}

	contents, err := os.ReadFile(resolved)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to read file: %v", err)}, nil
	}
	return &agentcore.ToolResult{Success: true, Output: string(contents)}, nil
}

// FileWriteTool writes content to a workspace-relative file, creating
// parent directories and refusing to follow a symlink at the final target.
type FileWriteTool struct {
	security *secpolicy.Policy
}

func NewFileWriteTool(security *secpolicy.Policy) *FileWriteTool {
	return &FileWriteTool{security: security}
}

func (t *FileWriteTool) Name() string        { return "file_write" }
func (t *FileWriteTool) Description() string { return "Write contents to a file in the workspace" }

func (t *FileWriteTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Relative path to the file within the workspace"},
			"content": map[string]any{"type": "string", "description": "Content to write to the file"},
		},
		"required": []string{"path", "content"},
	})
}

func (t *FileWriteTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Path == "" {
		return invalidInput(fmt.Errorf("missing 'path' parameter"))
	}

	if !t.security.CanAct() {
		return policyDenied("Action blocked: autonomy is read-only")
	}
	if t.security.IsRateLimited() {
		return rateLimited()
	}

	resolved, err := t.security.ValidatePath(params.Path)
	if err != nil {
		return fromPolicyError(err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to create parent directory: %v", err)}, nil
	}

	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindPermissionDenied, Error: fmt.Sprintf("Refusing to write through symlink: %s", resolved)}, nil
	}

	if !t.security.RecordAction() {
		return rateLimited()
	}

	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to write file: %v", err)}, nil
	}
	return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("Written %d bytes to %s", len(params.Content), params.Path)}, nil
}

// FileEditTool replaces a single exact occurrence of old_string with
// new_string in a workspace-relative file.
type FileEditTool struct {
	security *secpolicy.Policy
}

func NewFileEditTool(security *secpolicy.Policy) *FileEditTool {
	return &FileEditTool{security: security}
}

func (t *FileEditTool) Name() string { return "file_edit" }
func (t *FileEditTool) Description() string {
	return "Edit a file by replacing an exact string match with new content"
}

func (t *FileEditTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string", "description": "Path to the file, relative to the workspace"},
			"old_string": map[string]any{"type": "string", "description": "The exact text to find and replace (must appear exactly once)"},
			"new_string": map[string]any{"type": "string", "description": "The replacement text (empty string to delete the matched text)"},
		},
		"required": []string{"path", "old_string", "new_string"},
	})
}

func (t *FileEditTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Path      string `json:"path"`
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Path == "" {
		return invalidInput(fmt.Errorf("missing 'path' parameter"))
	}
	if params.OldString == "" {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: "old_string must not be empty"}, nil
	}

	if !t.security.CanAct() {
		return policyDenied("Action blocked: autonomy is read-only")
	}
	if t.security.IsRateLimited() {
		return rateLimited()
	}

	resolved, err := t.security.ValidatePath(params.Path)
	if err != nil {
		return fromPolicyError(err)
	}

	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindPermissionDenied, Error: fmt.Sprintf("Refusing to edit through symlink: %s", resolved)}, nil
	}

	if !t.security.RecordAction() {
		return rateLimited()
	}

	contentBytes, err := os.ReadFile(resolved)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to read file: %v", err)}, nil
	}
	content := string(contentBytes)

	matchCount := strings.Count(content, params.OldString)
	if matchCount == 0 {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindNotFound, Error: "old_string not found in file"}, nil
	}
	if matchCount > 1 {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: fmt.Sprintf("old_string matches %d times; must match exactly once", matchCount)}, nil
	}

	newContent := strings.Replace(content, params.OldString, params.NewString, 1)
	if err := os.WriteFile(resolved, []byte(newContent), 0o644); err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to write file: %v", err)}, nil
	}
	return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("Edited %s: replaced 1 occurrence (%d bytes)", params.Path, len(newContent))}, nil
}

func invalidInput(err error) (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: fmt.Sprintf("invalid input: %v", err)}, nil
}

func rateLimited() (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindRateLimited, Error: "Rate limit exceeded: too many actions in the last hour"}, nil
}

func policyDenied(msg string) (*agentcore.ToolResult, error) {
	return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindPolicyDenied, Error: msg}, nil
}

func fromPolicyError(err error) (*agentcore.ToolResult, error) {
	if pe, ok := err.(*secpolicy.PolicyError); ok {
		return &agentcore.ToolResult{Success: false, ErrorKind: pe.Kind, Error: pe.Msg}, nil
	}
	return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindUnknown, Error: err.Error()}, nil
}
