package engine

import (
	"encoding/json"
	"fmt"
)

// State is a phase of the run state machine:
//
//	Idle -> Compiling -> Running -> Draining -> Completed
//	           |            |           |
//	           +------------+-----------+--> Aborted
type State int

const (
	Idle State = iota
	Compiling
	Running
	Draining
	Completed
	Aborted
)

var stateNames = [...]string{"idle", "compiling", "running", "draining", "completed", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Completed || s == Aborted }

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown run state %q", name)
}

// validTransitions lists the allowed successor states.
var validTransitions = map[State][]State{
	Idle:      {Compiling},
	Compiling: {Running, Aborted},
	Running:   {Draining, Aborted},
	Draining:  {Completed, Aborted},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
