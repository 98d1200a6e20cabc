package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/log"
)

// Command is an external program invocation
type Command struct {
	Name string
	Args []string
	Dir  string

	// Env entries (KEY=value) are added to the inherited environment. They
	// are never rendered by Line or String.
	Env []string

	// Secret arguments are masked in String
	Secret []string
}

// Line renders the full command line
func (c Command) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// String renders the command line for messages and logs, with secret
// arguments masked
func (c Command) String() string {
	if len(c.Secret) == 0 {
		return c.Line()
	}
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = arg
		for _, secret := range c.Secret {
			if secret != "" && arg == secret {
				args[i] = "******"
			}
		}
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}

// WithSecret marks arguments to mask in String
func (c Command) WithSecret(secrets ...string) Command {
	c.Secret = append(append([]string{}, c.Secret...), secrets...)
	return c
}

// WithEnv adds KEY=value entries to the command's environment
func (c Command) WithEnv(entries ...string) Command {
	c.Env = append(append([]string{}, c.Env...), entries...)
	return c
}

// Cmd builds a Command
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Output is the captured result of a finished command
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns the trimmed stderr, falling back to stdout, for error messages
func (o Output) Combined() string {
	if s := strings.TrimSpace(o.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(o.Stdout)
}

// Runner runs external commands. Every call to pm2, nginx, certbot, openssl
// and the supervised binary goes through a Runner.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExitError is returned when a command ran but exited non-zero
type ExitError struct {
	Command Command
	Output  Output
}

func (e *ExitError) Error() string {
	msg := e.Output.Combined()
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command.Name, e.Output.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command.Name, e.Output.ExitCode, msg)
}

// ExecRunner runs commands on the host with os/exec
type ExecRunner struct{}

// NewExecRunner creates a host command runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command and waits for it to finish
func (r *ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	start := time.Now()
	logger := log.WithComponent("system")

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		err = &ExitError{Command: c, Output: out}
	default:
		out.ExitCode = -1
		err = fmt.Errorf("failed to run %s: %w", c.Name, err)
	}

	logger.Debug().
		Str("command", c.String()).
		Int("exit_code", out.ExitCode).
		Dur("duration", out.Duration).
		Msg("command finished")

	return out, err
}
