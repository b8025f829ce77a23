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

func fileReadInput(path string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"path": path})
	return raw
}

func fileWriteInput(path, content string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"path": path, "content": content})
	return raw
}

func fileEditInput(path, oldS, newS string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"path": path, "old_string": oldS, "new_string": newS})
	return raw
}

func TestFileReadExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileReadTool(policy)

	r, err := tool.Execute(context.Background(), fileReadInput("note.txt"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success || r.Output != "hello" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestFileReadBlocksPathTraversal(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileReadTool(policy)

	r, err := tool.Execute(context.Background(), fileReadInput("../../etc/passwd"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected traversal to be blocked")
	}
}

func TestFileReadBlocksAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileReadTool(policy)

	r, err := tool.Execute(context.Background(), fileReadInput("/etc/passwd"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected absolute path to be blocked")
	}
}

func TestFileReadBlocksSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	secretPath := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secretPath, []byte("s3cr3t"), 0o644); err != nil {
		t.Fatal(err)
	}
	linkPath := filepath.Join(dir, "link.txt")
	if err := os.Symlink(secretPath, linkPath); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileReadTool(policy)

	r, err := tool.Execute(context.Background(), fileReadInput("link.txt"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected symlink escape to be blocked")
	}
}

func TestFileReadRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, maxFileReadBytes+1)
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileReadTool(policy)

	r, err := tool.Execute(context.Background(), fileReadInput("big.bin"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected oversized file to be rejected")
	}
}

func TestFileWriteCreatesFile(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileWriteTool(policy)

	r, err := tool.Execute(context.Background(), fileWriteInput("out.txt", "content"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "content" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestFileWriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileWriteTool(policy)

	r, err := tool.Execute(context.Background(), fileWriteInput("nested/deep/out.txt", "x"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "deep", "out.txt")); err != nil {
		t.Fatalf("expected nested file to exist: %v", err)
	}
}

func TestFileWriteBlocksReadonlyMode(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyReadOnly, dir, 0)
	tool := NewFileWriteTool(policy)

	r, err := tool.Execute(context.Background(), fileWriteInput("out.txt", "x"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected read-only mode to block write")
	}
	if r.ErrorKind != secpolicy.ErrorKindPolicyDenied {
		t.Fatalf("expected PolicyDenied, got %q", r.ErrorKind)
	}
}

func TestFileWriteBlocksWhenRateLimited(t *testing.T) {
	dir := t.TempDir()
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 1)
	tool := NewFileWriteTool(policy)

	first, _ := tool.Execute(context.Background(), fileWriteInput("a.txt", "x"))
	if !first.Success {
		t.Fatalf("expected first write to succeed, got %+v", first)
	}

	second, err := tool.Execute(context.Background(), fileWriteInput("b.txt", "x"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if second.Success {
		t.Fatalf("expected second write to be rate-limited")
	}
	if second.ErrorKind != secpolicy.ErrorKindRateLimited {
		t.Fatalf("expected RateLimited, got %q", second.ErrorKind)
	}
}

func TestFileWriteBlocksSymlinkTargetFile(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "target.txt")
	if err := os.WriteFile(outsideFile, []byte("orig"), 0o644); err != nil {
		t.Fatal(err)
	}
	linkPath := filepath.Join(dir, "link.txt")
	if err := os.Symlink(outsideFile, linkPath); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileWriteTool(policy)

	r, err := tool.Execute(context.Background(), fileWriteInput("link.txt", "overwritten"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected write through symlink to be refused")
	}
}

func TestFileEditReplacesSingleOccurrence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileEditTool(policy)

	r, err := tool.Execute(context.Background(), fileEditInput("f.txt", "world", "there"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(got) != "hello there" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestFileEditRejectsAmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a a a"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileEditTool(policy)

	r, err := tool.Execute(context.Background(), fileEditInput("f.txt", "a", "b"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected ambiguous match to be rejected")
	}
	if !strings.Contains(r.Error, "3 times") {
		t.Fatalf("expected match-count in error, got %q", r.Error)
	}
}

func TestFileEditRejectsEmptyOldString(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileEditTool(policy)

	r, err := tool.Execute(context.Background(), fileEditInput("f.txt", "", "x"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected empty old_string to be rejected")
	}
}

func TestFileEditRejectsNoMatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := secpolicy.New(secpolicy.AutonomyFull, dir, 0)
	tool := NewFileEditTool(policy)

	r, err := tool.Execute(context.Background(), fileEditInput("f.txt", "missing", "x"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Success {
		t.Fatalf("expected no-match to be rejected")
	}
	if r.ErrorKind != secpolicy.ErrorKindNotFound {
		t.Fatalf("expected NotFound, got %q", r.ErrorKind)
	}
}
