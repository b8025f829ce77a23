// Package estop implements the emergency-stop kill switch: a composable set
// of levels (kill everything, kill network tools, block specific domains,
// freeze specific tools) backed by fail-closed, atomically-persisted state.
//
// A corrupt or unreadable state file is treated as KillAll rather than as
// "no restriction" — the opposite of most config loaders in this codebase,
// and deliberately so: a tripped e-stop must never silently disappear.
package estop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/observability"
)

// Level is one composable restriction the e-stop can apply.
type Level struct {
	KillAll     bool     `json:"kill_all,omitempty"`
	NetworkKill bool     `json:"network_kill,omitempty"`
	DomainBlock []string `json:"domain_block,omitempty"`
	ToolFreeze  []string `json:"tool_freeze,omitempty"`
}

// IsEmpty reports whether the level imposes no restriction at all.
func (l Level) IsEmpty() bool {
	return !l.KillAll && !l.NetworkKill && len(l.DomainBlock) == 0 && len(l.ToolFreeze) == 0
}

// State is the on-disk / in-memory representation of the current e-stop
// posture. Multiple engage() calls compose: the union of all active levels
// applies until a matching resume() clears them.
type State struct {
	Levels       []Level   `json:"levels"`
	EngagedAt    time.Time `json:"engaged_at,omitempty"`
	EngagedBy    string    `json:"engaged_by,omitempty"`
	RequireOtp   bool      `json:"require_otp_to_resume,omitempty"`
	FailClosed   bool      `json:"fail_closed,omitempty"`
}

// normalize dedups and sorts DomainBlock/ToolFreeze within every level so
// equivalent states compare and serialize deterministically.
func (s *State) normalize() {
	for i := range s.Levels {
		s.Levels[i].DomainBlock = dedupSort(s.Levels[i].DomainBlock)
		s.Levels[i].ToolFreeze = dedupSort(s.Levels[i].ToolFreeze)
	}
}

func dedupSort(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Active reports whether any level currently imposes a restriction.
func (s *State) Active() bool {
	for _, l := range s.Levels {
		if !l.IsEmpty() {
			return true
		}
	}
	return false
}

func (s *State) killAll() bool {
	for _, l := range s.Levels {
		if l.KillAll {
			return true
		}
	}
	return false
}

func (s *State) networkKilled() bool {
	for _, l := range s.Levels {
		if l.KillAll || l.NetworkKill {
			return true
		}
	}
	return false
}

func (s *State) frozenTools() map[string]struct{} {
	out := map[string]struct{}{}
	for _, l := range s.Levels {
		for _, t := range l.ToolFreeze {
			out[t] = struct{}{}
		}
	}
	return out
}

func (s *State) blockedDomainPatterns() []string {
	var out []string
	for _, l := range s.Levels {
		out = append(out, l.DomainBlock...)
	}
	return out
}

// Manager owns the e-stop state for one agent/workspace, mediating all
// reads and writes behind a mutex and persisting every mutation atomically.
type Manager struct {
	mu        sync.RWMutex
	path      string
	state     State
	otp       *OtpValidator
	logger    *observability.Logger
	loadIssue error // non-nil if Load fell back to fail-closed KillAll
}

// LoadReport describes the outcome of loading state from disk, surfaced so
// callers can alert operators when the fail-closed fallback engaged.
type LoadReport struct {
	FellBackToKillAll bool
	Reason            string
}

// Load reads state from path, creating a clear (non-engaged) state file if
// none exists. A corrupt or unreadable existing file is NOT an error: it
// engages KillAll and persists that fact immediately (fail-closed).
func Load(path string, otp *OtpValidator, logger *observability.Logger) (*Manager, LoadReport, error) {
	m := &Manager{path: path, otp: otp, logger: logger}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.state = State{}
		if err := m.persistLocked(); err != nil {
			return nil, LoadReport{}, fmt.Errorf("initialize estop state: %w", err)
		}
		return m, LoadReport{}, nil

	case err != nil:
		return m.failClosed(fmt.Sprintf("read state file: %v", err))

	default:
		var st State
		if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil {
			return m.failClosed(fmt.Sprintf("parse state file: %v", jsonErr))
		}
		st.normalize()
		m.state = st
		return m, LoadReport{}, nil
	}
}

func (m *Manager) failClosed(reason string) (*Manager, LoadReport, error) {
	m.state = State{
		Levels:     []Level{{KillAll: true}},
		EngagedAt:  now(),
		EngagedBy:  "estop:fail-closed",
		FailClosed: true,
	}
	m.loadIssue = errors.New(reason)
	if m.logger != nil {
		m.logger.Error(context.Background(), "estop state unreadable, engaging fail-closed kill-all", "reason", reason)
	}
	if err := m.persistLocked(); err != nil {
		return nil, LoadReport{}, fmt.Errorf("persist fail-closed state after %s: %w", reason, err)
	}
	return m, LoadReport{FellBackToKillAll: true, Reason: reason}, nil
}

// Engage adds level to the active set and persists the new state.
func (m *Manager) Engage(level Level, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Levels = append(m.state.Levels, level)
	m.state.normalize()
	if m.state.EngagedAt.IsZero() {
		m.state.EngagedAt = now()
	}
	m.state.EngagedBy = by
	if m.logger != nil {
		m.logger.Warn(context.Background(), "estop engaged", "by", by, "kill_all", level.KillAll, "network_kill", level.NetworkKill)
	}
	return m.persistLocked()
}

// Resume clears all active levels. If state.RequireOtp is set, code must
// validate against otp or resume is refused.
func (m *Manager) Resume(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.RequireOtp {
		if m.otp == nil {
			return errors.New("resume requires otp but no validator configured")
		}
		ok, err := m.otp.Validate(code, func() int64 { return now().Unix() })
		if err != nil {
			return fmt.Errorf("validate otp: %w", err)
		}
		if !ok {
			return errors.New("invalid or expired otp code")
		}
	}

	m.state = State{}
	if m.logger != nil {
		m.logger.Info(context.Background(), "estop resumed")
	}
	return m.persistLocked()
}

// RequireOtpOnResume toggles whether Resume requires a valid OTP code.
func (m *Manager) RequireOtpOnResume(require bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RequireOtp = require
	return m.persistLocked()
}

// CheckTool reports an error if toolName is currently frozen or all tools
// are killed.
func (m *Manager) CheckTool(toolName string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.killAll() {
		return fmt.Errorf("tool %q blocked: emergency stop is engaged (kill-all)", toolName)
	}
	if _, frozen := m.state.frozenTools()[toolName]; frozen {
		return fmt.Errorf("tool %q is frozen by emergency stop", toolName)
	}
	if isNetworkTool(toolName) && m.state.networkKilled() {
		return fmt.Errorf("tool %q blocked: network access is killed", toolName)
	}
	return nil
}

// CheckDomain reports an error if host matches any blocked-domain pattern,
// or if network access is globally killed.
func (m *Manager) CheckDomain(host string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.networkKilled() {
		return fmt.Errorf("domain %q blocked: network access is killed", host)
	}
	host = strings.ToLower(host)
	for _, pattern := range m.state.blockedDomainPatterns() {
		if domainMatches(host, pattern) {
			return fmt.Errorf("domain %q blocked by emergency-stop pattern %q", host, pattern)
		}
	}
	return nil
}

// domainMatches mirrors the apex/subdomain semantics used by the security
// policy's domain allowlist: a bare pattern matches its apex and all
// subdomains; a "*."-prefixed pattern matches subdomains only.
func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) && host != pattern[2:]
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func isNetworkTool(toolName string) bool {
	switch toolName {
	case "http_request", "web_fetch", "browser_open", "proxy_config":
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the current state for display/status reporting.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := m.state
	cp.Levels = append([]Level(nil), m.state.Levels...)
	return cp
}

// LoadIssue returns the reason Load fell back to fail-closed, or nil.
func (m *Manager) LoadIssue() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadIssue
}

func (m *Manager) persistLocked() error {
	return writeStateAtomic(m.path, m.state)
}

func writeStateAtomic(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal estop state: %w", err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to a temp file beside path (named with a uuid
// suffix so concurrent writers never collide), chmods it 0600, then renames
// it over path. Rename is atomic on the same filesystem, so readers never
// observe a partially-written state file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}

func readFileIfExists(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, true, nil
}

// now is overridable indirection so tests can avoid Go's banned
// argless-clock calls at the call site while still exercising real
// time-based OTP windows via CodeForTimestamp.
var now = time.Now

// Watch starts a background fsnotify watcher on the manager's state file so
// an operator editing it out-of-process (or restoring a backup) is picked
// up without a restart. It reloads and replaces the in-memory state on every
// write/create/rename event, applying the same fail-closed rules as Load.
// The returned stop func closes the watcher; ctx cancellation also stops it.
func (m *Manager) Watch(ctx context.Context) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create estop state watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch estop state dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				m.reloadFromDisk()
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if m.logger != nil {
					m.logger.Warn(ctx, "estop state watcher error", "error", werr)
				}
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}

func (m *Manager) reloadFromDisk() {
	raw, ok, err := readFileIfExists(m.path)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil || !ok {
		reason := "state file missing on watch reload"
		if err != nil {
			reason = err.Error()
		}
		m.state = State{
			Levels:     []Level{{KillAll: true}},
			EngagedAt:  now(),
			EngagedBy:  "estop:fail-closed",
			FailClosed: true,
		}
		m.loadIssue = errors.New(reason)
		_ = m.persistLocked()
		return
	}

	var st State
	if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil {
		m.state = State{
			Levels:     []Level{{KillAll: true}},
			EngagedAt:  now(),
			EngagedBy:  "estop:fail-closed",
			FailClosed: true,
		}
		m.loadIssue = fmt.Errorf("parse reloaded state file: %w", jsonErr)
		_ = m.persistLocked()
		return
	}
	st.normalize()
	m.state = st
	m.loadIssue = nil
}
