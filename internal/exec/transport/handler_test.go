package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"judgebox/internal/exec/sandbox/engine/enginetest"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/sandbox/result"
	"judgebox/internal/exec/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, runner *enginetest.Runner) (*httptest.Server, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg, err := registry.NewLocalRegistry(nil)
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	factory := func(id string) Session {
		return session.New(id, session.Deps{
			Resolver: reg,
			Runner:   runner,
			Config:   session.Config{QuietPeriod: 20 * time.Millisecond},
		})
	}
	h := NewHandler(factory, nil, nil, Config{})
	router := gin.New()
	router.GET("/ws/execute", h.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/execute"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s failed: %v", event, err)
	}
}

func readUntil(t *testing.T, ws *websocket.Conn, event string) []received {
	t.Helper()
	var frames []received
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f received
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("read failed after %d frames: %v", len(frames), err)
		}
		frames = append(frames, f)
		if f.Event == event {
			return frames
		}
	}
}

func decodeResult(t *testing.T, f received) session.Result {
	t.Helper()
	var res session.Result
	if err := json.Unmarshal(f.Data, &res); err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	return res
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecuteStreamsOutputAndResult(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("hello\n")
		p.Exit(result.ExitStatus{})
	}}
	srv, _ := newTestServer(t, runner)
	ws := dial(t, srv)

	send(t, ws, EventExecuteCode, map[string]string{"language": "python", "code": "print('hello')"})
	frames := readUntil(t, ws, string(session.EventResult))

	if frames[0].Event != string(session.EventOutput) {
		t.Fatalf("first frame = %s, want output", frames[0].Event)
	}
	var out outputPayload
	if err := json.Unmarshal(frames[0].Data, &out); err != nil {
		t.Fatalf("decode output failed: %v", err)
	}
	if out.Output != "hello\n" || out.IsError {
		t.Fatalf("unexpected output payload: %+v", out)
	}
	res := decodeResult(t, frames[len(frames)-1])
	if !res.Success || res.Output != "hello\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendInputAfterWaiting(t *testing.T) {
	runner := &enginetest.Runner{
		Setup: func(p *enginetest.Process) {
			p.OnWrite = func(p *enginetest.Process, data string) {
				p.Stdout("Hi " + data)
				p.Exit(result.ExitStatus{})
			}
		},
		Script: func(p *enginetest.Process) {
			p.Stdout("Name: ")
		},
	}
	srv, _ := newTestServer(t, runner)
	ws := dial(t, srv)

	send(t, ws, EventExecuteCode, map[string]string{"language": "python", "code": "input()"})
	readUntil(t, ws, string(session.EventWaitingForInput))
	send(t, ws, EventSendInput, "bob")

	frames := readUntil(t, ws, string(session.EventResult))
	res := decodeResult(t, frames[len(frames)-1])
	if !res.Success || res.Output != "Name: Hi bob\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStopExecution(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("tick\n")
	}}
	srv, _ := newTestServer(t, runner)
	ws := dial(t, srv)

	send(t, ws, EventExecuteCode, map[string]string{"language": "python", "code": "while True: pass"})
	readUntil(t, ws, string(session.EventOutput))
	send(t, ws, EventStopExecution, nil)

	frames := readUntil(t, ws, string(session.EventResult))
	res := decodeResult(t, frames[len(frames)-1])
	if res.Success || res.Error != "Execution stopped" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !runner.Processes()[0].Killed() {
		t.Fatalf("process was not killed")
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Exit(result.ExitStatus{})
	}}
	srv, _ := newTestServer(t, runner)
	ws := dial(t, srv)

	send(t, ws, "reboot-server", nil)
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	send(t, ws, EventExecuteCode, map[string]string{"language": "python", "code": "pass"})
	frames := readUntil(t, ws, string(session.EventResult))
	if res := decodeResult(t, frames[len(frames)-1]); !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDisconnectKillsProcess(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("running\n")
	}}
	srv, h := newTestServer(t, runner)
	ws := dial(t, srv)

	send(t, ws, EventExecuteCode, map[string]string{"language": "python", "code": "while True: pass"})
	readUntil(t, ws, string(session.EventOutput))
	if h.Hub().Count() != 1 {
		t.Fatalf("hub count = %d, want 1", h.Hub().Count())
	}
	_ = ws.Close()

	waitFor(t, func() bool { return runner.Processes()[0].Killed() })
	waitFor(t, func() bool { return h.Hub().Count() == 0 })
	if _, _, cleanups := runner.Counts(); cleanups != 1 {
		t.Fatalf("cleanups = %d, want 1", cleanups)
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		err  bool
	}{
		{raw: `"5"`, want: "5"},
		{raw: `{"text":"abc"}`, want: "abc"},
		{raw: `42`, err: true},
	}
	for _, tt := range tests {
		got, err := parseInput(json.RawMessage(tt.raw))
		if tt.err {
			if err == nil {
				t.Fatalf("parseInput(%s) expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("parseInput(%s) = %q, %v", tt.raw, got, err)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, nil, nil, Config{AllowedOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest("GET", "/ws/execute", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if h.checkOrigin(req) {
		t.Fatalf("foreign origin accepted")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !h.checkOrigin(req) {
		t.Fatalf("allowed origin rejected")
	}
}
