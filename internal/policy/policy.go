// ABOUTME: Stateless allow/deny decisions for agent commands.
// ABOUTME: The dangerous-command denylist always wins over any allowlist.

package policy

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ErrDangerousCommand indicates the command matched the denylist.
var ErrDangerousCommand = errors.New("dangerous command")

// ErrToolNotAllowed indicates the command's tool is not permitted.
var ErrToolNotAllowed = errors.New("tool not allowed")

// denylist holds substrings that reject a command regardless of tool policy.
var denylist = []string{
	"rm -rf",
	"mkfs",
	"chmod 777",
	":(){:|:&};:",
	"reboot",
	"shutdown",
	"halt",
	"dd if=/dev/zero",
}

// Denylist returns a copy of the dangerous substrings.
func Denylist() []string {
	return slices.Clone(denylist)
}

// Decision is the outcome of evaluating one command.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Tool    string `json:"tool"`
	Marker  string `json:"marker,omitempty"`
	Reason  error  `json:"-"`
}

// IsAllowed reports whether tool may be used.
// Without allowlistOnly the tool must be in the catalog; with it the tool must
// appear in requested, regardless of the catalog.
func IsAllowed(tool string, requested []string, allowlistOnly bool) bool {
	tool = normalize(tool)
	if tool == "" {
		return false
	}
	if !allowlistOnly {
		return Known(tool)
	}
	for _, r := range requested {
		if normalize(r) == tool {
			return true
		}
	}
	return false
}

// IsDangerous reports whether command contains any denylisted substring.
func IsDangerous(command string) bool {
	lower := strings.ToLower(command)
	for _, bad := range denylist {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

// ToolName extracts the executable name from a command line.
// A leading "RUN " marker, sudo, and any directory prefix are stripped.
func ToolName(command string) string {
	fields := strings.Fields(command)
	if len(fields) > 0 && fields[0] == "RUN" {
		fields = fields[1:]
	}
	if len(fields) > 0 && fields[0] == "sudo" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	return normalize(path.Base(fields[0]))
}

// Evaluate decides whether command may run. The denylist is checked first.
func Evaluate(command string, requested []string, allowlistOnly bool) Decision {
	tool := ToolName(command)

	if IsDangerous(command) {
		return Decision{
			Tool:   tool,
			Marker: "BLOCKED: Dangerous command",
			Reason: ErrDangerousCommand,
		}
	}

	if !IsAllowed(tool, requested, allowlistOnly) {
		where := "allowed list"
		if allowlistOnly {
			where = "user-selected tools"
		}
		return Decision{
			Tool:   tool,
			Marker: fmt.Sprintf("BLOCKED: Tool '%s' not in %s", tool, where),
			Reason: fmt.Errorf("%w: %s", ErrToolNotAllowed, tool),
		}
	}

	return Decision{Allowed: true, Tool: tool}
}
