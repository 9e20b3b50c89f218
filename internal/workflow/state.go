// Package workflow implements the sequential multi-stage approval state
// machine shared by every request kind.
package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the position of a request in its approval pipeline.
type State string

const (
	StateCompleted State = "completed"
	StateRejected  State = "rejected"

	pendingPrefix = "pending_stage"
)

// PendingStage returns the state awaiting action from stage n (1-based).
func PendingStage(n int) State {
	return State(pendingPrefix + strconv.Itoa(n))
}

// Stage returns the 1-based stage number of a pending state.
func (s State) Stage() (int, bool) {
	rest, ok := strings.CutPrefix(string(s), pendingPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsTerminal reports whether no further transition is permitted.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected
}

// IsPending reports whether the state awaits a stage's action.
func (s State) IsPending() bool {
	_, ok := s.Stage()
	return ok
}

func (s State) String() string {
	return string(s)
}

// ParseState validates s against a pipeline of stageCount stages.
func ParseState(s string, stageCount int) (State, error) {
	st := State(s)
	if st.IsTerminal() {
		return st, nil
	}
	if n, ok := st.Stage(); ok && n <= stageCount {
		return st, nil
	}
	return "", fmt.Errorf("invalid state %q for a %d-stage workflow", s, stageCount)
}
