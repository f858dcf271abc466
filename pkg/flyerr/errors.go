// Package flyerr defines the typed error taxonomy the orchestrator and its
// collaborators use to distinguish local, per-test failures from fatal
// infrastructure failures that must abort a crank before any state mutation.
package flyerr

import (
	"errors"
	"fmt"
)

// Code identifies a taxonomy entry.
type Code string

const (
	// CodeTraceMalformed: trace missing required fields. Local to one test.
	CodeTraceMalformed Code = "TraceMalformed"
	// CodeRunnerFailed: runner produced no trace after one retry. Local to one test.
	CodeRunnerFailed Code = "RunnerFailed"
	// CodeLiveFallbackUnavailable: validator couldn't reach a live browser context. Local to one milestone.
	CodeLiveFallbackUnavailable Code = "LiveFallbackUnavailable"
	// CodeMatcherTimeout: match-decisions file didn't appear within the wait bound. Aborts feedback phases only.
	CodeMatcherTimeout Code = "MatcherTimeout"
	// CodeBaselineMissing: no prior baseline exists. Not an error condition, just a state.
	CodeBaselineMissing Code = "BaselineMissing"
	// CodeBacklogMissing: C1 is absent. Decision engine cannot run.
	CodeBacklogMissing Code = "BacklogMissing"
	// CodeBacklogCorrupt: backlog failed its schema check. Fatal, refuses to start.
	CodeBacklogCorrupt Code = "BacklogCorrupt"
	// CodeHistoryWriteFailed: append-only write failed. Fatal post-measurement.
	CodeHistoryWriteFailed Code = "HistoryWriteFailed"
)

// Fatal reports whether errors of this code must abort the crank before any
// state mutation, per spec.md §7's propagation rule.
func (c Code) Fatal() bool {
	switch c {
	case CodeBacklogMissing, CodeBacklogCorrupt, CodeHistoryWriteFailed:
		return true
	default:
		return false
	}
}

// FlywheelError is a taxonomy-tagged wrapped error.
type FlywheelError struct {
	Code Code
	Msg  string
	Err  error
}

func (e *FlywheelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *FlywheelError) Unwrap() error { return e.Err }

// New creates a FlywheelError with the given code and message.
func New(code Code, msg string) *FlywheelError {
	return &FlywheelError{Code: code, Msg: msg}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code Code, msg string, err error) *FlywheelError {
	return &FlywheelError{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the Code of err if it (or something it wraps) is a
// *FlywheelError, returning ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var fe *FlywheelError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
