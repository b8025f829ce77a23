package bridge

import "strings"

// dangerousCommandMarkers are substrings (case-insensitive) that force a
// shell command into require_user/high approval gating.
var dangerousCommandMarkers = []string{
	"rm", "mv", "chmod", "chown", "sudo", "git push", "git reset", "tee", ">",
	"mkdir", "rmdir", "touch", "npm publish", "cargo publish",
}

// ClassifyApproval applies the fixed eligibility/risk rules from spec §4.3:
// file_write always requires user approval; shell commands containing a
// dangerous marker (substring match on the lowercased command) require it
// too; everything else is auto/low.
func ClassifyApproval(toolName, shellCommand string) Approval {
	switch toolName {
	case "file_write":
		return Approval{Mode: "require_user", Risk: "high"}
	case "shell":
		lowered := strings.ToLower(shellCommand)
		for _, marker := range dangerousCommandMarkers {
			if strings.Contains(lowered, marker) {
				return Approval{Mode: "require_user", Risk: "high"}
			}
		}
		return Approval{Mode: "auto", Risk: "low"}
	default:
		return Approval{Mode: "auto", Risk: "low"}
	}
}
