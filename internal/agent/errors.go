package agent

import (
	"errors"
	"fmt"

	"a11yscout-mcp-server/internal/probe"
)

var (
	// ErrEmptyQuery rejects a blank query before any model call.
	ErrEmptyQuery = errors.New("query is required")
	// ErrIntent means no valid action could be classified from the query.
	ErrIntent = errors.New("could not determine any valid action")
	// ErrMalformedIntent means the model reply was not the expected JSON shape.
	// It wraps ErrIntent.
	ErrMalformedIntent = fmt.Errorf("malformed intent response: %w", ErrIntent)
	// ErrDispatch is matched by every *DispatchError.
	ErrDispatch = errors.New("probe dispatch failed")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("report persistence failed")
	// ErrInvalidTransition is returned when a cycle tries an illegal state change.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// DispatchError reports the probe that aborted a cycle.
type DispatchError struct {
	Action probe.Action
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s probe failed: %v", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Err} }

// PersistenceError reports a report that was analyzed but could not be stored.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("save report: %v", e.Err)
	}
	return fmt.Sprintf("save report %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
