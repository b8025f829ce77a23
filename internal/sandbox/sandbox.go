// Package sandbox wraps a command descriptor with process-isolation flags
// before it is spawned, so shell-tool invocations run confined rather than
// with the caller's full privileges.
//
// Backends are probed in a fixed, lightest-first order so the strongest
// isolation available on the host is used without configuration: Firejail,
// Bubblewrap, Landlock, Docker, then None as the universal fallback.
package sandbox

import (
	"fmt"
	"os/exec"
)

// Backend identifies one sandboxing mechanism.
type Backend string

const (
	BackendNone      Backend = "none"
	BackendFirejail  Backend = "firejail"
	BackendBubblewrap Backend = "bubblewrap"
	BackendLandlock  Backend = "landlock"
	BackendDocker    Backend = "docker"
)

// probeOrder is the fixed availability-probing sequence (spec §4.6 open
// question, resolved): lightest/fastest Linux sandboxes first, Docker as a
// heavier fallback, None always last.
var probeOrder = []Backend{BackendFirejail, BackendBubblewrap, BackendLandlock, BackendDocker, BackendNone}

// Command is the minimal process descriptor a Wrapper mutates: the program
// to run and its arguments. Wrap replaces both in place to prepend
// sandboxing flags/prefixes.
type Command struct {
	Path string
	Args []string
}

// Wrapper mutates a Command before it is spawned, confining it to the
// backend's isolation mechanism. WorkspaceDir is passed through so backends
// that bind-mount or restrict filesystem access know what to allow.
type Wrapper interface {
	Backend() Backend
	Wrap(cmd Command, workspaceDir string) (Command, error)
}

// Detect probes backends in probeOrder and returns the first available one.
// forced, if non-empty, short-circuits detection and returns that backend's
// wrapper regardless of availability (an operator's explicit override).
func Detect(forced Backend) Wrapper {
	if forced != "" {
		return wrapperFor(forced)
	}
	for _, b := range probeOrder {
		if b == BackendNone {
			return wrapperFor(BackendNone)
		}
		if binaryAvailable(b) {
			return wrapperFor(b)
		}
	}
	return wrapperFor(BackendNone)
}

func binaryAvailable(b Backend) bool {
	switch b {
	case BackendFirejail:
		_, err := exec.LookPath("firejail")
		return err == nil
	case BackendBubblewrap:
		_, err := exec.LookPath("bwrap")
		return err == nil
	case BackendLandlock:
		return landlockSupported()
	case BackendDocker:
		_, err := exec.LookPath("docker")
		return err == nil
	default:
		return false
	}
}

func wrapperFor(b Backend) Wrapper {
	switch b {
	case BackendFirejail:
		return firejailWrapper{}
	case BackendBubblewrap:
		return bubblewrapWrapper{}
	case BackendLandlock:
		return landlockWrapper{}
	case BackendDocker:
		return dockerWrapper{}
	default:
		return noneWrapper{}
	}
}

// noneWrapper runs the command unmodified.
type noneWrapper struct{}

func (noneWrapper) Backend() Backend { return BackendNone }
func (noneWrapper) Wrap(cmd Command, _ string) (Command, error) { return cmd, nil }

// firejailWrapper prepends firejail with the hardened flag set from spec
// §4.6: a private home, no device access, no audio/video/3D, no wheel
// group, no profile auto-detection, and quiet startup.
type firejailWrapper struct{}

func (firejailWrapper) Backend() Backend { return BackendFirejail }

func (firejailWrapper) Wrap(cmd Command, _ string) (Command, error) {
	flags := []string{
		"--private=home",
		"--private-dev",
		"--nosound",
		"--no3d",
		"--novideo",
		"--nowheel",
		"--notv",
		"--noprofile",
		"--quiet",
	}
	return Command{
		Path: "firejail",
		Args: append(append([]string{}, flags...), append([]string{cmd.Path}, cmd.Args...)...),
	}, nil
}

// bubblewrapWrapper confines the command to a read-only root with the
// workspace bind-mounted read-write, network and device access denied, and
// a fresh pid/ipc/uts namespace.
type bubblewrapWrapper struct{}

func (bubblewrapWrapper) Backend() Backend { return BackendBubblewrap }

func (bubblewrapWrapper) Wrap(cmd Command, workspaceDir string) (Command, error) {
	args := []string{
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/lib", "/lib",
		"--bind", workspaceDir, workspaceDir,
		"--proc", "/proc",
		"--dev", "/dev",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-net",
		"--die-with-parent",
		"--chdir", workspaceDir,
	}
	args = append(args, cmd.Path)
	args = append(args, cmd.Args...)
	return Command{Path: "bwrap", Args: args}, nil
}

// landlockWrapper restricts filesystem access via the Landlock LSM through
// the landlock-enabled exec shim, rather than a raw syscall prefix — the
// kernel ABI has no command-line form, so this backend requires the process
// itself to apply the ruleset (see landlock_linux.go) before Exec.
type landlockWrapper struct{}

func (landlockWrapper) Backend() Backend { return BackendLandlock }

func (landlockWrapper) Wrap(cmd Command, workspaceDir string) (Command, error) {
	return applyLandlockRuleset(cmd, workspaceDir)
}

// dockerWrapper runs the command inside a minimal, network-disabled
// container with the workspace bind-mounted.
type dockerWrapper struct{}

func (dockerWrapper) Backend() Backend { return BackendDocker }

func (dockerWrapper) Wrap(cmd Command, workspaceDir string) (Command, error) {
	args := []string{
		"run", "--rm", "-i",
		"--network", "none",
		"-v", fmt.Sprintf("%s:%s", workspaceDir, workspaceDir),
		"-w", workspaceDir,
		dockerSandboxImage,
		"sh", "-c", shellQuoteJoin(append([]string{cmd.Path}, cmd.Args...)),
	}
	return Command{Path: "docker", Args: args}, nil
}

// dockerSandboxImage is the minimal shell image used for docker-backed
// sandboxing; it is intentionally distro-agnostic.
const dockerSandboxImage = "alpine:3.20"

func shellQuoteJoin(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += "'" + escapeSingleQuotes(p) + "'"
	}
	return out
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
