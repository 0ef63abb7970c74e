// ABOUTME: Executor boundary for running approved commands.
// ABOUTME: The shipped DryRunExecutor records commands without running them.

package mission

import (
	"context"
	"fmt"
)

// ExecRequest is a policy-approved command.
type ExecRequest struct {
	AgentID string
	Command string
	Tool    string
	Target  string
}

// Executor runs approved commands. Implementations must honour ctx.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (string, error)
}

// DryRunExecutor reports what would run.
type DryRunExecutor struct{}

func (DryRunExecutor) Execute(ctx context.Context, req ExecRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[dry-run] %s", req.Command), nil
}
