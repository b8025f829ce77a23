package builtin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/agentcore"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secpolicy"
)

// MemoryStore is a minimal key/content store the memory_store, memory_recall
// and memory_forget tools share. It is deliberately independent of the
// embeddings-based long-term memory index (internal/memory): these tools
// model an agent's plain key/value scratchpad (spec §4.9), not semantic
// recall over an embedding space.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens (creating if needed) a SQLite-backed key/value store
// at path. Use ":memory:" for an ephemeral, process-local store.
func NewMemoryStore(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS memories (
	key        TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory store schema: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) Close() error { return s.db.Close() }

func (s *MemoryStore) store(ctx context.Context, key, content, category string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (key, content, category, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET content = excluded.content, category = excluded.category, updated_at = excluded.updated_at`,
		key, content, category, now)
	return err
}

type memoryEntry struct {
	Key      string
	Content  string
	Category string
}

func (s *MemoryStore) get(ctx context.Context, key string) (*memoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, content, category FROM memories WHERE key = ?`, key)
	var e memoryEntry
	if err := row.Scan(&e.Key, &e.Content, &e.Category); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *MemoryStore) list(ctx context.Context, category string) ([]memoryEntry, error) {
	query := `SELECT key, content, category FROM memories`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY key ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []memoryEntry
	for rows.Next() {
		var e memoryEntry
		if err := rows.Scan(&e.Key, &e.Content, &e.Category); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *MemoryStore) forget(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// normalizeCategory maps the free-form category string from tool input onto
// the category enum: "core" (default), "daily", "conversation", or a custom
// name for anything else.
func normalizeCategory(raw string) string {
	switch raw {
	case "", "core":
		return "core"
	case "daily", "conversation":
		return raw
	default:
		return raw
	}
}

// MemoryStoreTool lets the agent write a fact, preference, or note to
// long-term memory.
type MemoryStoreTool struct {
	memory   *MemoryStore
	security *secpolicy.Policy
	nowUnix  func() int64
}

func NewMemoryStoreTool(memory *MemoryStore, security *secpolicy.Policy, nowUnix func() int64) *MemoryStoreTool {
	return &MemoryStoreTool{memory: memory, security: security, nowUnix: nowUnix}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }
func (t *MemoryStoreTool) Description() string {
	return "Store a fact, preference, or note in long-term memory. Use category 'core' for permanent " +
		"facts, 'daily' for session notes, 'conversation' for chat context, or a custom category name."
}

func (t *MemoryStoreTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":      map[string]any{"type": "string", "description": "Unique key for this memory (e.g. 'user_lang', 'project_stack')"},
			"content":  map[string]any{"type": "string", "description": "The information to remember"},
			"category": map[string]any{"type": "string", "description": "Memory category: 'core' (permanent), 'daily' (session), 'conversation' (chat), or a custom category name. Defaults to 'core'."},
		},
		"required": []string{"key", "content"},
	})
}

func (t *MemoryStoreTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Key      string `json:"key"`
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Key == "" {
		return invalidInput(fmt.Errorf("missing 'key' parameter"))
	}
	if params.Content == "" {
		return invalidInput(fmt.Errorf("missing 'content' parameter"))
	}

	if !t.security.CanAct() {
		return policyDenied("Action blocked: autonomy is read-only mode")
	}
	if t.security.IsRateLimited() {
		return rateLimited()
	}
	if !t.security.RecordAction() {
		return rateLimited()
	}

	category := normalizeCategory(params.Category)
	if err := t.memory.store(ctx, params.Key, params.Content, category, t.nowUnix()); err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to store memory: %v", err)}, nil
	}
	return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("Stored memory: %s", params.Key)}, nil
}

// MemoryRecallTool retrieves a memory by key, or lists every memory in a
// category when no key is given. Recall is a read-only operation: it
// bypasses the autonomy gate but still observes the rate limit.
type MemoryRecallTool struct {
	memory   *MemoryStore
	security *secpolicy.Policy
}

func NewMemoryRecallTool(memory *MemoryStore, security *secpolicy.Policy) *MemoryRecallTool {
	return &MemoryRecallTool{memory: memory, security: security}
}

func (t *MemoryRecallTool) Name() string { return "memory_recall" }
func (t *MemoryRecallTool) Description() string {
	return "Recall a stored memory by key, or list every memory in a category if no key is given."
}

func (t *MemoryRecallTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":      map[string]any{"type": "string", "description": "The key of the memory to recall"},
			"category": map[string]any{"type": "string", "description": "List all memories in this category instead of recalling a single key"},
		},
	})
}

func (t *MemoryRecallTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Key      string `json:"key"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}

	if t.security.IsRateLimited() {
		return rateLimited()
	}
	if !t.security.RecordAction() {
		return rateLimited()
	}

	if params.Key != "" {
		entry, err := t.memory.get(ctx, params.Key)
		if err != nil {
			return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to recall memory: %v", err)}, nil
		}
		if entry == nil {
			return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("No memory found with key: %s", params.Key)}, nil
		}
		return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("[%s] %s: %s", entry.Category, entry.Key, entry.Content)}, nil
	}

	entries, err := t.memory.list(ctx, params.Category)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to list memories: %v", err)}, nil
	}
	if len(entries) == 0 {
		return &agentcore.ToolResult{Success: true, Output: "No memories found."}, nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.Category, e.Key, e.Content))
	}
	return &agentcore.ToolResult{Success: true, Output: strings.Join(lines, "\n")}, nil
}

// MemoryForgetTool removes a memory by key.
type MemoryForgetTool struct {
	memory   *MemoryStore
	security *secpolicy.Policy
}

func NewMemoryForgetTool(memory *MemoryStore, security *secpolicy.Policy) *MemoryForgetTool {
	return &MemoryForgetTool{memory: memory, security: security}
}

func (t *MemoryForgetTool) Name() string { return "memory_forget" }
func (t *MemoryForgetTool) Description() string {
	return "Remove a memory by key. Use to delete outdated facts or sensitive data. Returns whether the memory was found and removed."
}

func (t *MemoryForgetTool) Schema() json.RawMessage {
	return mustMarshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string", "description": "The key of the memory to forget"},
		},
		"required": []string{"key"},
	})
}

func (t *MemoryForgetTool) Execute(ctx context.Context, input json.RawMessage) (*agentcore.ToolResult, error) {
	var params struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return invalidInput(err)
	}
	if params.Key == "" {
		return invalidInput(fmt.Errorf("missing 'key' parameter"))
	}

	if !t.security.CanAct() {
		return policyDenied("Action blocked: autonomy is read-only mode")
	}
	if t.security.IsRateLimited() {
		return rateLimited()
	}
	if !t.security.RecordAction() {
		return rateLimited()
	}

	found, err := t.memory.forget(ctx, params.Key)
	if err != nil {
		return &agentcore.ToolResult{Success: false, ErrorKind: secpolicy.ErrorKindExecutionFailed, Error: fmt.Sprintf("Failed to forget memory: %v", err)}, nil
	}
	if !found {
		return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("No memory found with key: %s", params.Key)}, nil
	}
	return &agentcore.ToolResult{Success: true, Output: fmt.Sprintf("Forgot memory: %s", params.Key)}, nil
}

// DefaultMemoryPath returns the conventional memory database path within a
// workspace directory.
func DefaultMemoryPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".zeroclaw", "memory.db")
}
