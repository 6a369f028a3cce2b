package session

// State is the lifecycle state of one run.
type State string

const (
	StateIdle            State = "Idle"
	StateCompiling       State = "Compiling"
	StateRunning         State = "Running"
	StateWaitingForInput State = "WaitingForInput"
	StateCompleted       State = "Completed"
	StateFailed          State = "Failed"
	StateStopped         State = "Stopped"
)

var transitions = map[State][]State{
	StateIdle:            {StateCompiling, StateRunning, StateFailed, StateStopped},
	StateCompiling:       {StateRunning, StateFailed, StateStopped},
	StateRunning:         {StateWaitingForInput, StateCompleted, StateFailed, StateStopped},
	StateWaitingForInput: {StateRunning, StateCompleted, StateFailed, StateStopped},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether a child process may be alive in this state.
func (s State) Active() bool {
	return s == StateCompiling || s == StateRunning || s == StateWaitingForInput
}
