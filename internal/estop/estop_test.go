package estop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secrets"
)

func statePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "estop_state.json")
}

func TestLevelsComposeAndResume(t *testing.T) {
	path := statePath(t)
	mgr, report, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.FellBackToKillAll {
		t.Fatal("fresh state should not fail closed")
	}

	if err := mgr.Engage(Level{NetworkKill: true}, "operator-a"); err != nil {
		t.Fatalf("Engage network: %v", err)
	}
	if err := mgr.Engage(Level{ToolFreeze: []string{"shell"}}, "operator-b"); err != nil {
		t.Fatalf("Engage tool freeze: %v", err)
	}

	if err := mgr.CheckTool("shell"); err == nil {
		t.Fatal("shell should be frozen")
	}
	if err := mgr.CheckDomain("example.com"); err == nil {
		t.Fatal("domains should be blocked while network is killed")
	}
	if err := mgr.CheckTool("file_read"); err != nil {
		t.Fatalf("file_read should not be restricted by tool freeze: %v", err)
	}

	if err := mgr.Resume(""); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if mgr.Snapshot().Active() {
		t.Fatal("state should be clear after resume")
	}
	if err := mgr.CheckTool("shell"); err != nil {
		t.Fatalf("shell should be unblocked after resume: %v", err)
	}
}

func TestStateSurvivesReload(t *testing.T) {
	path := statePath(t)
	mgr, _, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Engage(Level{DomainBlock: []string{"*.evil.example"}}, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	reloaded, report, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if report.FellBackToKillAll {
		t.Fatal("valid reloaded state should not fail closed")
	}
	if err := reloaded.CheckDomain("sub.evil.example"); err == nil {
		t.Fatal("reloaded state should still block the domain")
	}
	if err := reloaded.CheckDomain("evil.example"); err != nil {
		t.Fatal("bare apex should not match a *.-prefixed pattern")
	}
}

func TestCorruptedStateDefaultsToFailClosedKillAll(t *testing.T) {
	path := statePath(t)
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	mgr, report, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load should not error on corrupt state, should fail closed: %v", err)
	}
	if !report.FellBackToKillAll {
		t.Fatal("corrupt state must fall back to kill-all")
	}
	if err := mgr.CheckTool("anything"); err == nil {
		t.Fatal("kill-all must block every tool")
	}

	reread, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted fail-closed state: %v", err)
	}
	if len(reread) == 0 {
		t.Fatal("fail-closed state should have been persisted")
	}
}

func TestResumeRequiresValidOtpWhenEnabled(t *testing.T) {
	path := statePath(t)
	secretsDir := t.TempDir()
	store := secrets.New(secretsDir, true)
	validator, _, err := NewOtpValidator(store, secretsDir, "estop")
	if err != nil {
		t.Fatalf("NewOtpValidator: %v", err)
	}

	mgr, _, err := Load(path, validator, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Engage(Level{KillAll: true}, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if err := mgr.RequireOtpOnResume(true); err != nil {
		t.Fatalf("RequireOtpOnResume: %v", err)
	}

	if err := mgr.Resume(""); err == nil {
		t.Fatal("resume without otp code should fail when required")
	}
	if err := mgr.Resume("000000"); err == nil {
		t.Fatal("resume with wrong otp code should fail")
	}
}

func TestResumeAcceptsValidOtpCode(t *testing.T) {
	path := statePath(t)
	secretsDir := t.TempDir()
	store := secrets.New(secretsDir, true)
	validator, _, err := NewOtpValidator(store, secretsDir, "estop")
	if err != nil {
		t.Fatalf("NewOtpValidator: %v", err)
	}

	mgr, _, err := Load(path, validator, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Engage(Level{KillAll: true}, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if err := mgr.RequireOtpOnResume(true); err != nil {
		t.Fatalf("RequireOtpOnResume: %v", err)
	}

	code := validator.CodeForTimestamp(time.Now().Unix())
	if err := mgr.Resume(code); err != nil {
		t.Fatalf("Resume with valid otp should succeed: %v", err)
	}
	if mgr.Snapshot().Active() {
		t.Fatal("state should be clear after valid-otp resume")
	}
}

func TestCheckToolEnforcesFreezeNetworkAndKillAll(t *testing.T) {
	path := statePath(t)
	mgr, _, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := mgr.CheckTool("shell"); err != nil {
		t.Fatalf("no restriction yet: %v", err)
	}

	if err := mgr.Engage(Level{NetworkKill: true}, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if err := mgr.CheckTool("http_request"); err == nil {
		t.Fatal("network tool should be blocked by network kill")
	}
	if err := mgr.CheckTool("shell"); err != nil {
		t.Fatalf("non-network tool should not be blocked by network kill: %v", err)
	}

	if err := mgr.Resume(""); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := mgr.Engage(Level{KillAll: true}, "operator"); err != nil {
		t.Fatalf("Engage kill-all: %v", err)
	}
	if err := mgr.CheckTool("shell"); err == nil {
		t.Fatal("kill-all should block every tool")
	}
}

func TestCheckDomainBlocksMatchingDomainPatterns(t *testing.T) {
	path := statePath(t)
	mgr, _, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Engage(Level{DomainBlock: []string{"example.com", "*.internal.example"}}, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	cases := map[string]bool{
		"example.com":            true,
		"www.example.com":        true,
		"other.com":              false,
		"internal.example":       false,
		"foo.internal.example":   true,
	}
	for host, wantBlocked := range cases {
		err := mgr.CheckDomain(host)
		blocked := err != nil
		if blocked != wantBlocked {
			t.Errorf("CheckDomain(%q) blocked=%v, want %v (err=%v)", host, blocked, wantBlocked, err)
		}
	}
}

func TestDomainMatchesApexVsSubdomainPrefix(t *testing.T) {
	if !domainMatches("example.com", "example.com") {
		t.Error("bare pattern should match its own apex")
	}
	if !domainMatches("api.example.com", "example.com") {
		t.Error("bare pattern should match subdomains")
	}
	if domainMatches("example.com", "*.example.com") {
		t.Error("*.-prefixed pattern should not match the bare apex")
	}
	if !domainMatches("api.example.com", "*.example.com") {
		t.Error("*.-prefixed pattern should match subdomains")
	}
}

func TestNormalizeDedupsAndSortsLevels(t *testing.T) {
	st := State{Levels: []Level{
		{ToolFreeze: []string{"b", "a", "a"}, DomainBlock: []string{"z.com", "a.com", "z.com"}},
	}}
	st.normalize()
	if got := st.Levels[0].ToolFreeze; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("ToolFreeze not deduped/sorted: %v", got)
	}
	if got := st.Levels[0].DomainBlock; len(got) != 2 || got[0] != "a.com" || got[1] != "z.com" {
		t.Fatalf("DomainBlock not deduped/sorted: %v", got)
	}
}
