package transport

import (
	"encoding/json"
	"fmt"

	"judgebox/internal/exec/session"
)

// Inbound event names.
const (
	EventExecuteCode   = "execute-code"
	EventSendInput     = "send-input"
	EventStopExecution = "stop-execution"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// outputPayload carries session.Event.Output unchanged, leading backspaces included.
type outputPayload struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

// parseInput accepts either a bare JSON string or {"text": "..."}.
func parseInput(data json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text, nil
	}
	var wrapped struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return "", fmt.Errorf("decode send-input payload: %w", err)
	}
	return wrapped.Text, nil
}

func toFrame(ev session.Event) outboundFrame {
	switch ev.Type {
	case session.EventOutput:
		return outboundFrame{Event: string(ev.Type), Data: outputPayload{Output: ev.Output, IsError: ev.IsError}}
	case session.EventResult:
		return outboundFrame{Event: string(ev.Type), Data: ev.Result}
	default:
		return outboundFrame{Event: string(ev.Type)}
	}
}
