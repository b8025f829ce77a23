package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

func globInput(pattern string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"pattern": pattern})
	return raw
}

func TestGlobSearchMatchesRecursive(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "x")
	mustWriteFile(t, filepath.Join(dir, "sub", "b.go"), "x")
	mustWriteFile(t, filepath.Join(dir, "sub", "c.txt"), "x")

	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewGlobSearchTool(policy)

	r, err := tool.Execute(context.Background(), globInput("**/*.go"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if !strings.Contains(r.Output, "a.go") || !strings.Contains(r.Output, filepath.ToSlash(filepath.Join("sub", "b.go"))) {
		t.Fatalf("expected both go files listed, got %q", r.Output)
	}
	if strings.Contains(r.Output, "c.txt") {
		t.Fatalf("did not expect txt file in go-only match, got %q", r.Output)
	}
}

func TestGlobSearchRejectsAbsolutePattern(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewGlobSearchTool(policy)

	r, err := tool.Execute(context.Background(), globInput("/etc/*"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected absolute pattern to be rejected")
	}
}

func TestGlobSearchRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewGlobSearchTool(policy)

	r, err := tool.Execute(context.Background(), globInput("../*.go"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected traversal pattern to be rejected")
	}
}

func TestGlobSearchReportsNoMatches(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewGlobSearchTool(policy)

	r, err := tool.Execute(context.Background(), globInput("**/*.nonexistent"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success || !strings.Contains(r.Output, "No files matching") {
		t.Fatalf("expected no-match message, got %+v", r)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
