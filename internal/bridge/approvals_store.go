package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ApprovalStatus is the lifecycle state of a pending-approval row.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRow is one row of the approvals table.
type ApprovalRow struct {
	RequestID string
	ToolName  string
	Metadata  string
	Status    ApprovalStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ApprovalStore persists approval requests so a (possibly different)
// operator process can review and decide them, with an automatic janitor
// that expires rows past their deadline.
type ApprovalStore struct {
	db      *sql.DB
	janitor *cron.Cron
}

// NewApprovalStore opens (creating if necessary) a SQLite-backed approvals
// table at path and starts the expired-row janitor on a 30s schedule.
func NewApprovalStore(path string) (*ApprovalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open approvals database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS approvals (
			request_id TEXT PRIMARY KEY,
			tool_name  TEXT NOT NULL,
			metadata   TEXT,
			status     TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create approvals table: %w", err)
	}

	s := &ApprovalStore{db: db, janitor: cron.New()}
	if _, err := s.janitor.AddFunc("@every 30s", s.expireOverdueRows); err != nil {
		db.Close()
		return nil, fmt.Errorf("schedule approvals janitor: %w", err)
	}
	s.janitor.Start()
	return s, nil
}

// Close stops the janitor and closes the underlying database.
func (s *ApprovalStore) Close() error {
	ctx := s.janitor.Stop()
	<-ctx.Done()
	return s.db.Close()
}

// Insert records a new pending approval with a 45s expiry from now.
func (s *ApprovalStore) Insert(ctx context.Context, requestID, toolName, metadata string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (request_id, tool_name, metadata, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, toolName, metadata, ApprovalPending, now, now.Add(approvalWait))
	if err != nil {
		return fmt.Errorf("insert approval row: %w", err)
	}
	return nil
}

// Get returns the current row for requestID.
func (s *ApprovalStore) Get(ctx context.Context, requestID string) (ApprovalRow, error) {
	var row ApprovalRow
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, tool_name, metadata, status, created_at, expires_at
		 FROM approvals WHERE request_id = ?`, requestID).
		Scan(&row.RequestID, &row.ToolName, &row.Metadata, &row.Status, &row.CreatedAt, &row.ExpiresAt)
	if err != nil {
		return ApprovalRow{}, fmt.Errorf("get approval row %s: %w", requestID, err)
	}
	return row, nil
}

// Decide transitions a pending row to approved or denied. It is a no-op
// (returns sql.ErrNoRows-wrapped error) if the row is no longer pending.
func (s *ApprovalStore) Decide(ctx context.Context, requestID string, approve bool) error {
	status := ApprovalDenied
	if approve {
		status = ApprovalApproved
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ? WHERE request_id = ? AND status = ?`,
		status, requestID, ApprovalPending)
	if err != nil {
		return fmt.Errorf("decide approval %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide approval %s: %w", requestID, err)
	}
	if n == 0 {
		return fmt.Errorf("approval %s is no longer pending", requestID)
	}
	return nil
}

// expireOverdueRow atomically marks requestID expired if it is still
// pending and past its deadline, returning whether it expired just now.
func (s *ApprovalStore) expireOverdueRow(ctx context.Context, requestID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ? WHERE request_id = ? AND status = ? AND expires_at <= ?`,
		ApprovalExpired, requestID, ApprovalPending, time.Now())
	if err != nil {
		return false, fmt.Errorf("expire approval %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// expireOverdueRows is the janitor's periodic sweep: it expires every
// pending row whose deadline has passed, independent of any in-flight
// poll loop (so a crashed bridge process doesn't leave stale pending rows
// forever).
func (s *ApprovalStore) expireOverdueRows() {
	_, _ = s.db.Exec(
		`UPDATE approvals SET status = ? WHERE status = ? AND expires_at <= ?`,
		ApprovalExpired, ApprovalPending, time.Now())
}
