package session

// EventType names an outbound event.
type EventType string

const (
	EventOutput          EventType = "execution-output"
	EventWaitingForInput EventType = "waiting-for-input"
	EventResult          EventType = "execution-result"
)

// Event is pushed to the transport in emission order.
type Event struct {
	Type  EventType
	RunID string

	// Output is set for EventOutput. It is a delta against everything emitted so far:
	// each leading '\b' erases one previously emitted rune and the rest is appended.
	// Stdout and stderr share one buffer, so a delta may erase runes from either stream.
	Output  string
	IsError bool

	// Set for EventResult.
	Result *Result
}

// Result is the terminal payload of a run.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecuteRequest starts a run.
type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input,omitempty"`
}
