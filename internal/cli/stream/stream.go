// Package stream drives an interactive execution over the /ws/execute socket.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Outbound events sent by the client.
const (
	EventExecuteCode   = "execute-code"
	EventSendInput     = "send-input"
	EventStopExecution = "stop-execution"
)

// Inbound events pushed by the server.
const (
	EventOutput          = "execution-output"
	EventWaitingForInput = "waiting-for-input"
	EventResult          = "execution-result"
)

const writeWait = 10 * time.Second

// Result is the terminal payload of a run.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Frame is one decoded server event.
type Frame struct {
	Event   string
	Output  string
	IsError bool
	Result  *Result
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outputData struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

type executeData struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input,omitempty"`
}

// Conn is a client connection. Frames is closed when the socket ends.
type Conn struct {
	ws     *websocket.Conn
	frames chan Frame

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

// Dial opens the socket. The token travels as a bearer header.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s failed (HTTP %d): %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s failed: %w", wsURL, err)
	}
	c := &Conn{ws: ws, frames: make(chan Frame, 64)}
	go c.readLoop()
	return c, nil
}

// Frames yields server events in arrival order.
func (c *Conn) Frames() <-chan Frame { return c.frames }

// Err reports why the read side ended, nil for a normal close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Execute(language, code, input string) error {
	return c.send(EventExecuteCode, executeData{Language: language, Code: code, Input: input})
}

// SendInput forwards one line. The caller supplies the trailing newline.
func (c *Conn) SendInput(text string) error {
	return c.send(EventSendInput, text)
}

func (c *Conn) Stop() error {
	return c.send(EventStopExecution, nil)
}

// Close sends a close frame and tears the socket down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) send(event string, data any) error {
	frame := wireFrame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s failed: %w", event, err)
		}
		frame.Data = raw
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s failed: %w", event, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		var raw wireFrame
		if err := c.ws.ReadJSON(&raw); err != nil {
			if !isNormalClose(err) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		frame, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		c.frames <- frame
	}
}

func decodeFrame(raw wireFrame) (Frame, error) {
	frame := Frame{Event: raw.Event}
	switch raw.Event {
	case EventOutput:
		var data outputData
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return frame, fmt.Errorf("decode output: %w", err)
		}
		frame.Output = data.Output
		frame.IsError = data.IsError
	case EventResult:
		var result Result
		if err := json.Unmarshal(raw.Data, &result); err != nil {
			return frame, fmt.Errorf("decode result: %w", err)
		}
		frame.Result = &result
	case EventWaitingForInput:
	default:
		return frame, fmt.Errorf("unknown event %q", raw.Event)
	}
	return frame, nil
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
