// Package secpolicy implements the security policy every tool action is
// authorized against: autonomy gating, a rolling-window rate limiter,
// command allowlisting, two-phase workspace path validation, and outbound
// domain validation for browser/http tools.
package secpolicy

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorKind is the closed set of reasons a tool call can fail, carried on
// ToolResult so callers (and the LLM) can distinguish retryable conditions
// from hard denials. Wire labels are stable and lowercase.
type ErrorKind string

const (
	ErrorKindPolicyDenied     ErrorKind = "policy_denied"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindExecutionFailed  ErrorKind = "execution_failed"
	ErrorKindInvalidInput     ErrorKind = "invalid_input"
	ErrorKindStateNotUpdated  ErrorKind = "state_not_updated"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// Autonomy controls whether mutating tools may run at all.
type Autonomy string

const (
	AutonomyReadOnly   Autonomy = "read_only"
	AutonomySupervised Autonomy = "supervised"
	AutonomyFull       Autonomy = "full"
)

// readOnlyOperations bypass can_act() but still observe rate limits and
// path checks (spec §4.4).
var readOnlyOperations = map[string]struct{}{
	"file_read":     {},
	"glob_search":   {},
	"memory_recall": {},
}

// PolicyError pairs a human-readable message with its ErrorKind so callers
// can classify a denial without string-matching.
type PolicyError struct {
	Kind ErrorKind
	Msg  string
}

func (e *PolicyError) Error() string { return e.Msg }

func denied(kind ErrorKind, format string, args ...any) error {
	return &PolicyError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Policy is the process-wide, (mostly) immutable-after-init security
// policy. The rate-limit fields are mutated atomically so Decide/ record
// calls are safe for concurrent use without an external mutex.
type Policy struct {
	Autonomy           Autonomy
	WorkspaceDir       string
	WorkspaceOnly      bool
	AllowedCommands    []string
	ForbiddenPaths     []string
	AllowedPathEntries []string // explicit allowlist outside WorkspaceDir
	AllowedDomains     []string
	MaxActionsPerHour  uint32

	actionCount atomic.Uint32
	windowStart atomic.Int64 // unix seconds
}

// New constructs a Policy with windowStart set to now.
func New(autonomy Autonomy, workspaceDir string, maxActionsPerHour uint32) *Policy {
	p := &Policy{
		Autonomy:          autonomy,
		WorkspaceDir:      workspaceDir,
		WorkspaceOnly:     true,
		MaxActionsPerHour: maxActionsPerHour,
	}
	p.windowStart.Store(nowUnix())
	return p
}

var nowUnix = func() int64 { return time.Now().Unix() }

// CanAct reports whether mutating tools may run under the current autonomy
// level. ReadOnly never permits mutation; Supervised and Full both do (the
// distinction between them is the bridge's approval-gating policy, not this
// flag).
func (p *Policy) CanAct() bool {
	return p.Autonomy != AutonomyReadOnly
}

// IsReadOnlyOperation reports whether toolName is exempt from CanAct
// (still subject to rate limits and path checks).
func IsReadOnlyOperation(toolName string) bool {
	_, ok := readOnlyOperations[toolName]
	return ok
}

// Authorize is the single entry point tools call before acting: it enforces
// autonomy, then the rolling rate limit, returning a classified error.
func (p *Policy) Authorize(toolName string) error {
	if !IsReadOnlyOperation(toolName) && !p.CanAct() {
		return denied(ErrorKindPolicyDenied, "autonomy level %q forbids %q", p.Autonomy, toolName)
	}
	if !p.RecordAction() {
		return denied(ErrorKindRateLimited, "rate limit exceeded: %d actions/hour", p.MaxActionsPerHour)
	}
	return nil
}

// resetWindowIfExpired resets the rolling window when more than an hour has
// elapsed since windowStart. Returns the (possibly just-reset) windowStart.
func (p *Policy) resetWindowIfExpired() int64 {
	now := nowUnix()
	start := p.windowStart.Load()
	if now-start > 3600 {
		if p.windowStart.CompareAndSwap(start, now) {
			p.actionCount.Store(0)
			return now
		}
		return p.windowStart.Load()
	}
	return start
}

// IsRateLimited reports whether the current window's action count has
// reached the configured ceiling, without recording a new action.
func (p *Policy) IsRateLimited() bool {
	p.resetWindowIfExpired()
	return p.actionCount.Load() >= p.MaxActionsPerHour
}

// RecordAction atomically increments the action counter and returns false
// if doing so would exceed the budget (the increment still does not happen
// in that case — the caller's action is refused, not merely logged).
func (p *Policy) RecordAction() bool {
	p.resetWindowIfExpired()
	if p.MaxActionsPerHour == 0 {
		return true // unlimited
	}
	for {
		cur := p.actionCount.Load()
		if cur >= p.MaxActionsPerHour {
			return false
		}
		if p.actionCount.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// IsCommandAllowed reports whether c's first whitespace-delimited token
// equals one of AllowedCommands, exactly and case-sensitively.
func (p *Policy) IsCommandAllowed(c string) bool {
	fields := strings.Fields(c)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	for _, allowed := range p.AllowedCommands {
		if first == allowed {
			return true
		}
	}
	return false
}

// ValidatePath runs the two-phase path check described in spec §4.4:
// a textual pre-check (reject absolute paths, ".." segments, NUL bytes),
// then canonicalization against WorkspaceDir with symlink-escape denial.
// Returns the canonical absolute path on success.
func (p *Policy) ValidatePath(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", denied(ErrorKindInvalidInput, "path contains a NUL byte")
	}
	if filepath.IsAbs(raw) {
		return "", denied(ErrorKindPermissionDenied, "absolute paths are not allowed: %q", raw)
	}
	for _, seg := range strings.Split(filepath.ToSlash(raw), "/") {
		if seg == ".." {
			return "", denied(ErrorKindPermissionDenied, "path must not contain '..' segments: %q", raw)
		}
	}

	workspaceAbs, err := filepath.Abs(p.WorkspaceDir)
	if err != nil {
		return "", denied(ErrorKindExecutionFailed, "resolve workspace dir: %v", err)
	}
	target := filepath.Join(workspaceAbs, raw)

	canonical, err := canonicalizeExistingOrParent(target)
	if err != nil {
		return "", denied(ErrorKindPermissionDenied, "resolve path: %v", err)
	}

	if p.isExplicitlyAllowed(canonical) {
		return canonical, nil
	}

	rel, err := filepath.Rel(workspaceAbs, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", denied(ErrorKindPermissionDenied, "path escapes workspace: %q", raw)
	}
	for _, forbidden := range p.ForbiddenPaths {
		if matchesForbidden(canonical, workspaceAbs, forbidden) {
			return "", denied(ErrorKindPermissionDenied, "path is in forbidden_paths: %q", raw)
		}
	}
	return canonical, nil
}

func (p *Policy) isExplicitlyAllowed(canonical string) bool {
	for _, entry := range p.AllowedPathEntries {
		entryAbs, err := filepath.Abs(entry)
		if err != nil {
			continue
		}
		if canonical == entryAbs {
			return true
		}
	}
	return false
}

func matchesForbidden(canonical, workspaceAbs, forbidden string) bool {
	forbiddenAbs := forbidden
	if !filepath.IsAbs(forbiddenAbs) {
		forbiddenAbs = filepath.Join(workspaceAbs, forbidden)
	}
	return canonical == forbiddenAbs || strings.HasPrefix(canonical, forbiddenAbs+string(filepath.Separator))
}

// canonicalizeExistingOrParent resolves symlinks in target. If target does
// not exist yet (common for file_write), it canonicalizes the nearest
// existing ancestor and rejoins the remainder — the parent must already be
// real, but the leaf is allowed not to exist. A symlink AT the leaf that
// resolves outside the workspace is still caught by the caller's
// workspace-containment check because EvalSymlinks follows it.
func canonicalizeExistingOrParent(target string) (string, error) {
	resolved, err := filepath.EvalSymlinks(target)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(target)
	resolvedParent, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		return "", fmt.Errorf("canonicalize parent of %q: %w", target, perr)
	}
	return filepath.Join(resolvedParent, filepath.Base(target)), nil
}

// ValidateDomain splits host from rawURL and rejects userinfo, IPv6
// literals, loopback, RFC1918 private ranges, link-local addresses, and
// ".local" mDNS hosts. A surviving host must then match AllowedDomains,
// where "*" matches any non-private host and "example.com" matches both
// the bare domain and any subdomain.
func (p *Policy) ValidateDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", denied(ErrorKindInvalidInput, "parse url: %v", err)
	}
	if u.User != nil {
		return "", denied(ErrorKindPermissionDenied, "urls with userinfo are not allowed")
	}
	host := u.Hostname()
	if host == "" {
		return "", denied(ErrorKindInvalidInput, "url has no host: %q", rawURL)
	}
	host = strings.ToLower(host)

	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return "", denied(ErrorKindPermissionDenied, "IPv6 literal hosts are not allowed: %q", host)
		}
		if isBlockedIP(ip) {
			return "", denied(ErrorKindPermissionDenied, "host resolves to a private/loopback/link-local address: %q", host)
		}
	} else if host == "localhost" || strings.HasSuffix(host, ".local") {
		return "", denied(ErrorKindPermissionDenied, "loopback/mDNS hosts are not allowed: %q", host)
	}

	for _, allowed := range p.AllowedDomains {
		if domainAllowed(host, allowed) {
			return host, nil
		}
	}
	return "", denied(ErrorKindPolicyDenied, "host %q is not in allowed_domains", host)
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// domainAllowed mirrors the apex/subdomain matching rules shared with the
// e-stop domain-block patterns: "*" matches any (already-vetted, non
// private) host; a bare pattern matches its own apex and any subdomain.
func domainAllowed(host, pattern string) bool {
	if pattern == "*" {
		return true
	}
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}
