//go:build !linux

package sandbox

import "fmt"

func landlockSupported() bool { return false }

func applyLandlockRuleset(cmd Command, workspaceDir string) (Command, error) {
	return Command{}, fmt.Errorf("landlock sandboxing is only available on linux")
}
