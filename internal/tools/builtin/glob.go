package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

const maxGlobResults = 1000

// GlobSearchTool matches files within the workspace by glob pattern,
// supporting "**" for recursive matching, and returns a sorted,
// workspace-relative list.
type GlobSearchTool struct {
	security *secpolicy.Policy
}

func NewGlobSearchTool(security *secpolicy.Policy) *GlobSearchTool {
	return &GlobSearchTool{security: security}
}

func (t *GlobSearchTool) Name() string { return "glob_search" }
func (t *GlobSearchTool) Description() string {
	return "Search for files matching a glob pattern within the workspace. " +
		"Returns a sorted list of matching file paths relative to the workspace root. " +
		"Examples: '**/*.go' (all Go files), 'cmd/**/main.go' (all entrypoints)."
}

func (t *GlobSearchTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern to match files, e.g. '**/*.go', 'cmd/**/main.go'"},
		},
		"required": []string{"pattern"},
	})
}

func (t *GlobSearchTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Pattern == "" {
		return invalidInput(fmt.Errorf("missing 'pattern' parameter"))
	}

	if t.security.IsRateLimited() {
		return rateLimited()
	}

	if strings.HasPrefix(params.Pattern, "/") || strings.HasPrefix(params.Pattern, "\\") {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: "Absolute paths are not allowed. Use a relative glob pattern."}, nil
	}
	if strings.Contains(params.Pattern, "../") || strings.Contains(params.Pattern, "..\\") || params.Pattern == ".." {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: "Path traversal ('..') is not allowed in glob patterns."}, nil
	}

	if !t.security.RecordAction() {
		return rateLimited()
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(t.security.WorkspaceDir, params.Pattern))
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindInvalidInput, Error: fmt.Sprintf("Invalid glob pattern: %v", err)}, nil
	}

	workspaceCanon, err := filepath.EvalSymlinks(t.security.WorkspaceDir)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Cannot resolve workspace directory: %v", err)}, nil
	}

	results := make([]string, 0, len(matches))
	truncated := false
	for _, match := range matches {
		resolved, err := filepath.EvalSymlinks(match)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(workspaceCanon, resolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if isDir(resolved) {
			continue
		}
		results = append(results, filepath.ToSlash(rel))
		if len(results) >= maxGlobResults {
			truncated = true
			break
		}
	}
	sort.Strings(results)

	if len(results) == 0 {
		return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("No files matching pattern '%s' found in workspace.", params.Pattern)}, nil
	}

	var buf strings.Builder
	buf.WriteString(strings.Join(results, "\n"))
	if truncated {
		fmt.Fprintf(&buf, "\n\n[Results truncated: showing first %d of more matches]", maxGlobResults)
	}
	fmt.Fprintf(&buf, "\n\nTotal: %d files", len(results))
	return &agentcore.ToolResult{Success: true, Output: buf.String()}, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
