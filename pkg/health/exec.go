package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/system"
)

// ExecChecker runs a command through a system.Runner; exit status 0 is healthy
type ExecChecker struct {
	// Command is the command to execute (e.g., ["nginx", "-v"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	Runner system.Runner
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(runner system.Runner, command ...string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
		Runner:  runner,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	out, err := e.Runner.Run(execCtx, system.Cmd(e.Command[0], e.Command[1:]...))
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Version commands print to either stream (nginx -v uses stderr)
	output := strings.TrimSpace(out.Stdout)
	if output == "" {
		output = strings.TrimSpace(out.Stderr)
	}
	output, _, _ = strings.Cut(output, "\n")
	if len(output) > 100 {
		output = output[:100] + "..."
	}

	message := output
	if message == "" {
		message = fmt.Sprintf("%s ok", e.Command[0])
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}
