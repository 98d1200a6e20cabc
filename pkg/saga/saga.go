package saga

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Log is the ordered, append-only list of human readable messages produced
// while an operation runs
type Log struct {
	mu       sync.Mutex
	messages []string
}

// Add appends a message
func (l *Log) Add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

// Warn appends a message prefixed with "warning: "
func (l *Log) Warn(format string, args ...interface{}) {
	l.Add("warning: "+format, args...)
}

// Append adds messages produced elsewhere, preserving their order
func (l *Log) Append(messages ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, messages...)
}

// Messages returns a copy of the messages logged so far
func (l *Log) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

// Step is one side effect of an operation
type Step struct {
	Name string

	// Fatal steps abort the sequence on failure. A non-fatal failure is
	// logged as a warning and the sequence continues.
	Fatal bool

	Apply func(ctx context.Context, l *Log) error

	// Compensate undoes Apply. It only runs for steps whose Apply succeeded,
	// when a later fatal step fails. Nil means nothing to undo.
	Compensate func(ctx context.Context, l *Log) error
}

// StepError reports the fatal step that stopped a saga and any errors from
// the compensations that ran afterwards
type StepError struct {
	Step       string
	Err        error
	Compensate error
}

func (e *StepError) Error() string {
	if e.Compensate != nil {
		return fmt.Sprintf("%s: %v (rollback incomplete: %v)", e.Step, e.Err, e.Compensate)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga runs a fixed sequence of steps in order
type Saga struct {
	steps []Step
	log   *Log
}

// New creates a saga that writes its messages to l
func New(l *Log, steps ...Step) *Saga {
	if l == nil {
		l = &Log{}
	}
	return &Saga{steps: steps, log: l}
}

// Log returns the message log
func (s *Saga) Log() *Log {
	return s.log
}

// Run executes every step in order. The first fatal failure stops the
// sequence, compensates the applied steps in reverse order and returns a
// *StepError. Non-fatal failures never produce an error.
func (s *Saga) Run(ctx context.Context) error {
	applied := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.abort(ctx, applied, step.Name, err)
		}

		err := step.Apply(ctx, s.log)
		if err == nil {
			applied = append(applied, step)
			continue
		}

		if !step.Fatal {
			s.log.Warn("%s failed: %v", step.Name, err)
			continue
		}

		s.log.Add("error: %s failed: %v", step.Name, err)
		return s.abort(ctx, applied, step.Name, err)
	}

	return nil
}

func (s *Saga) abort(ctx context.Context, applied []Step, name string, cause error) error {
	var errs error
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if step.Compensate == nil {
			continue
		}
		// Compensations run even if ctx was cancelled
		if err := step.Compensate(context.WithoutCancel(ctx), s.log); err != nil {
			s.log.Warn("rollback of %s failed: %v", step.Name, err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		s.log.Add("rolled back: %s", step.Name)
	}

	return &StepError{Step: name, Err: cause, Compensate: errs}
}
