package sandbox

import "testing"

func TestDetectForcedOverridesProbing(t *testing.T) {
	w := Detect(BackendDocker)
	if w.Backend() != BackendDocker {
		t.Fatalf("forced backend should win regardless of availability, got %s", w.Backend())
	}
}

func TestDetectFallsBackToNone(t *testing.T) {
	w := Detect("")
	if w.Backend() == "" {
		t.Fatal("Detect should always return a usable wrapper")
	}
}

func TestNoneWrapperLeavesCommandUnchanged(t *testing.T) {
	w := noneWrapper{}
	cmd := Command{Path: "sh", Args: []string{"-c", "echo hi"}}
	got, err := w.Wrap(cmd, "/workspace")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got.Path != cmd.Path || len(got.Args) != len(cmd.Args) {
		t.Fatalf("none wrapper must not modify the command: %+v", got)
	}
}

func TestFirejailWrapperPrependsHardenedFlags(t *testing.T) {
	w := firejailWrapper{}
	cmd := Command{Path: "sh", Args: []string{"-c", "echo hi"}}
	got, err := w.Wrap(cmd, "/workspace")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got.Path != "firejail" {
		t.Fatalf("expected firejail as the program, got %q", got.Path)
	}
	wantFlags := []string{"--private=home", "--private-dev", "--nosound", "--no3d", "--novideo", "--nowheel", "--notv", "--noprofile", "--quiet"}
	for _, flag := range wantFlags {
		found := false
		for _, a := range got.Args {
			if a == flag {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected flag %q in args %v", flag, got.Args)
		}
	}
	if got.Args[len(got.Args)-2] != cmd.Path {
		t.Fatalf("wrapped command should end with the original program+args, got %v", got.Args)
	}
}

func TestFirejailWrapperPrivateHomeIsFixedNotWorkspacePath(t *testing.T) {
	w := firejailWrapper{}
	cmd := Command{Path: "sh", Args: []string{"-c", "echo hi"}}
	got, err := w.Wrap(cmd, "/some/other/workspace")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	found := false
	for _, a := range got.Args {
		if a == "--private=home" {
			found = true
		}
		if a == "--private=/some/other/workspace" {
			t.Fatalf("--private must not substitute the workspace path, got %q", a)
		}
	}
	if !found {
		t.Fatal("expected the fixed --private=home flag regardless of workspaceDir")
	}
}

func TestBubblewrapWrapperUnsharesNetwork(t *testing.T) {
	w := bubblewrapWrapper{}
	got, err := w.Wrap(Command{Path: "ls"}, "/workspace")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got.Path != "bwrap" {
		t.Fatalf("expected bwrap as the program, got %q", got.Path)
	}
	found := false
	for _, a := range got.Args {
		if a == "--unshare-net" {
			found = true
		}
	}
	if !found {
		t.Error("bubblewrap wrapper must unshare network")
	}
}

func TestEscapeSingleQuotes(t *testing.T) {
	got := escapeSingleQuotes(`it's a test`)
	want := `it'\''s a test`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
