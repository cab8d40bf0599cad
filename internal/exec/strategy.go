// Package exec provides the execution strategies: running a test runner as a
// local subprocess or inside an ephemeral Docker container. Both expose the
// same contract: a forward-only, single-pass stream of output events followed
// by a final result.
package exec

import (
	"context"
	"sync"

	"github.com/testwarden/testwarden/internal/testrun"
)

// EventKind discriminates output events.
type EventKind int

const (
	// EventStarted is emitted once, before any output line.
	EventStarted EventKind = iota
	// EventLine carries one line of combined stdout/stderr output.
	EventLine
	// EventExited is the final event and carries the exit code.
	EventExited
)

// OutputEvent is one element of a strategy's event stream.
type OutputEvent struct {
	Kind     EventKind
	Line     string
	ExitCode int
}

// Result is the terminal state of one strategy invocation.
type Result struct {
	ExitCode int
	// Output is the full captured output, independent of how much of the
	// event stream the consumer read.
	Output string
	// KilledByCutoff is set when the run was terminated early because the
	// advisory max-failures threshold was crossed. That is a normal
	// completion with partial output, not an error.
	KilledByCutoff bool
}

// Strategy runs a test command and streams its output. A stream is not
// restartable; re-running requires a new Execute call.
type Strategy interface {
	// Execute starts the run. selected, when non-empty, replaces the
	// request's test path with an explicit list of test identifiers.
	// Errors returned here mean the process or container never started.
	Execute(ctx context.Context, req testrun.RunRequest, selected []string) (*Stream, error)

	// Mode identifies the backend.
	Mode() testrun.Mode
}

// Stream delivers output events in the exact order they were produced.
// Consumers either drain Events fully before parsing or forward each event
// as it arrives; Wait blocks until the run finished and returns the result.
type Stream struct {
	events chan OutputEvent
	done   chan struct{}

	mu     sync.Mutex
	result *Result
	err    error
}

// NewStream creates an open stream. Strategy implementations publish with
// Emit and must call Finish exactly once.
func NewStream() *Stream {
	return &Stream{
		events: make(chan OutputEvent, 64),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It is closed after the final
// EventExited event (or after a mid-run failure).
func (s *Stream) Events() <-chan OutputEvent {
	return s.events
}

// Wait blocks until the stream finished and returns the final result.
func (s *Stream) Wait() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Emit delivers an event, giving up on delivery (but never on the run) when
// the context is cancelled and nobody is draining anymore.
func (s *Stream) Emit(ctx context.Context, ev OutputEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Finish records the final result and releases waiters. Call it once, after
// the last Emit.
func (s *Stream) Finish(result *Result, err error) {
	s.mu.Lock()
	s.result = result
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}
