package agent

import (
	"fmt"

	"a11yscout-mcp-server/internal/recorder"

	"go.uber.org/zap"
)

// State is a phase of one orchestration cycle.
type State string

const (
	StateIdle         State = "idle"
	StateResolving    State = "resolving"
	StateDispatching  State = "dispatching"
	StateSynthesizing State = "synthesizing"
	StateArchiving    State = "archiving"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// validTransitions defines the legal state changes. Done and Failed are terminal.
var validTransitions = map[State]map[State]bool{
	StateIdle:         {StateResolving: true, StateFailed: true},
	StateResolving:    {StateDispatching: true, StateFailed: true},
	StateDispatching:  {StateSynthesizing: true, StateFailed: true},
	StateSynthesizing: {StateArchiving: true, StateFailed: true},
	StateArchiving:    {StateDone: true, StateFailed: true},
}

// IsValidTransition checks if a state change is legal.
func IsValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	_, ok := validTransitions[s]
	return !ok
}

// cycle tracks the state of a single RunCycle call.
type cycle struct {
	id     string
	state  State
	trace  *recorder.Trace
	logger *zap.Logger
}

func (c *cycle) transition(to State, fields ...zap.Field) error {
	if !IsValidTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	from := c.state
	c.state = to
	c.logger.Debug("cycle transition", append([]zap.Field{
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}, fields...)...)
	c.trace.Log("transition", map[string]string{"from": string(from), "to": string(to)})
	return nil
}

// fail moves the cycle to Failed unless it is already terminal, and returns err.
func (c *cycle) fail(err error) error {
	if !c.state.IsTerminal() {
		_ = c.transition(StateFailed, zap.Error(err))
		c.trace.Log("error", err.Error())
	}
	return err
}
