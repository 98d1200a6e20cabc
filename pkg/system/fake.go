package system

import (
	"context"
	"strings"
	"sync"
)

// FakeResponse is the scripted outcome of a command matched by prefix
type FakeResponse struct {
	Output Output
	Err    error
	// Effect runs when the command matches, before the response is returned.
	// Tests use it to simulate side effects such as certbot writing files.
	Effect func(cmd Command)
}

// FakeRunner records every command and answers from a script. Commands
// with no matching rule succeed with empty output.
//
// FakeRunner is safe for concurrent use.
type FakeRunner struct {
	mu    sync.Mutex
	rules []fakeRule
	calls []Command
}

type fakeRule struct {
	prefix   string
	response FakeResponse
}

// NewFakeRunner creates an empty scripted runner
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers a response for commands whose rendered command line starts
// with prefix. Later registrations win over earlier ones.
func (f *FakeRunner) On(prefix string, response FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{prefix: prefix, response: response})
	return f
}

// Fail makes commands starting with prefix exit with status 1 and stderr msg
func (f *FakeRunner) Fail(prefix, msg string) *FakeRunner {
	c := Command{Name: strings.Fields(prefix)[0]}
	out := Output{Stderr: msg, ExitCode: 1}
	return f.On(prefix, FakeResponse{Output: out, Err: &ExitError{Command: c, Output: out}})
}

// Run records the command and returns the scripted response
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	line := cmd.Line()
	var match *FakeResponse
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			r := f.rules[i].response
			match = &r
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return Output{}, nil
	}
	if match.Effect != nil {
		match.Effect(cmd)
	}
	return match.Output, match.Err
}

// Calls returns the rendered command lines in invocation order
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Line()
	}
	return out
}

// Commands returns the recorded commands, environment included
func (f *FakeRunner) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CallsWithPrefix returns the rendered command lines starting with prefix
func (f *FakeRunner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls but keeps the script
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
