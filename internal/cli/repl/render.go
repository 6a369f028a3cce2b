package repl

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"judgebox/internal/cli/command"
	httpclient "judgebox/internal/cli/http"
	"judgebox/internal/cli/stream"
	pkgerrors "judgebox/pkg/errors"

	"github.com/fatih/color"
)

const maxCaseOutput = 200

type testResult struct {
	Passed  bool   `json:"passed"`
	Output  string `json:"output"`
	Error   string `json:"error"`
	Verdict string `json:"verdict"`
}

type judgeData struct {
	TestResults   []testResult `json:"testResults"`
	AllPassed     bool         `json:"allPassed"`
	PassedCount   int          `json:"passedCount"`
	FailedCount   int          `json:"failedCount"`
	ExecutionTime int64        `json:"executionTime"`
	MemoryUsed    int64        `json:"memoryUsed"`
	CompileError  string       `json:"compileError"`
}

type attempt struct {
	Language        string    `json:"language"`
	AllPassed       bool      `json:"allPassed"`
	PassedCount     int       `json:"passedCount"`
	FailedCount     int       `json:"failedCount"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	CreatedAt       time.Time `json:"createdAt"`
}

type progressData struct {
	ProblemID string `json:"problemId"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	ElapsedMs int64  `json:"elapsedMs"`
	Timer     struct {
		ElapsedMs        int64      `json:"elapsedMs"`
		SessionStartedAt *time.Time `json:"sessionStartedAt"`
	} `json:"timer"`
	History []attempt `json:"history"`
}

// Renderer prints responses and stream frames with color.
type Renderer struct {
	out    io.Writer
	pretty bool

	ok   *color.Color
	fail *color.Color
	warn *color.Color
	dim  *color.Color
}

func NewRenderer(out io.Writer, pretty bool) *Renderer {
	return &Renderer{
		out:    out,
		pretty: pretty,
		ok:     color.New(color.FgGreen, color.Bold),
		fail:   color.New(color.FgRed, color.Bold),
		warn:   color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
}

func (r *Renderer) Printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *Renderer) Line(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Renderer) Error(format string, args ...interface{}) {
	_, _ = r.fail.Fprintf(r.out, "error: "+format+"\n", args...)
}

// Response renders an HTTP response according to kind.
func (r *Renderer) Response(kind command.RenderKind, resp httpclient.ResponseInfo) {
	env, err := resp.Envelope()
	if err != nil {
		r.Error("HTTP %d: %v", resp.StatusCode, err)
		return
	}
	if env.Code != int(pkgerrors.Success) {
		_, _ = r.fail.Fprintf(r.out, "HTTP %d error %d: %s\n", resp.StatusCode, env.Code, env.Message)
		if len(env.Details) > 0 && string(env.Details) != "null" {
			r.Line("%s", string(env.Details))
		}
		if env.TraceID != "" {
			_, _ = r.dim.Fprintf(r.out, "trace %s\n", env.TraceID)
		}
		return
	}

	switch kind {
	case command.RenderRunTests, command.RenderSubmit:
		var data judgeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.Error("decode judge result: %v", err)
			return
		}
		r.judge(data, kind == command.RenderSubmit)
	case command.RenderProgress:
		var data progressData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			r.Error("decode progress: %v", err)
			return
		}
		r.progress(data)
	case command.RenderProgressList:
		var list []progressData
		if err := json.Unmarshal(env.Data, &list); err != nil {
			r.Error("decode progress list: %v", err)
			return
		}
		if len(list) == 0 {
			r.Line("no progress recorded")
		}
		for _, data := range list {
			r.progress(data)
		}
	default:
		r.json(env.Data)
	}
	_, _ = r.dim.Fprintf(r.out, "(%s)\n", resp.Duration.Round(time.Millisecond))
}

func (r *Renderer) judge(data judgeData, submit bool) {
	if data.CompileError != "" {
		_, _ = r.fail.Fprintln(r.out, "Compilation Error")
		r.Line("%s", strings.TrimRight(data.CompileError, "\n"))
		return
	}
	for i, tr := range data.TestResults {
		verdict := tr.Verdict
		if verdict == "" {
			verdict = "WA"
			if tr.Passed {
				verdict = "AC"
			}
		}
		if tr.Passed {
			_, _ = r.ok.Fprintf(r.out, "  case %d  %s\n", i+1, verdict)
			continue
		}
		_, _ = r.fail.Fprintf(r.out, "  case %d  %s\n", i+1, verdict)
		if tr.Error != "" {
			_, _ = r.warn.Fprintf(r.out, "    %s\n", truncate(tr.Error))
		} else if tr.Output != "" {
			_, _ = r.dim.Fprintf(r.out, "    output: %s\n", truncate(tr.Output))
		}
	}
	total := data.PassedCount + data.FailedCount
	if data.AllPassed {
		_, _ = r.ok.Fprintf(r.out, "Accepted %d/%d\n", data.PassedCount, total)
	} else {
		_, _ = r.fail.Fprintf(r.out, "Failed %d/%d passed\n", data.PassedCount, total)
	}
	if submit {
		r.Line("time %dms  memory %dKB", data.ExecutionTime, data.MemoryUsed)
	}
}

func (r *Renderer) progress(data progressData) {
	statusColor := r.warn
	switch data.Status {
	case "solved":
		statusColor = r.ok
	case "not_started":
		statusColor = r.dim
	}
	elapsed := data.ElapsedMs
	if elapsed == 0 {
		elapsed = data.Timer.ElapsedMs
	}
	r.Printf("%s  ", data.ProblemID)
	_, _ = statusColor.Fprint(r.out, data.Status)
	timer := "paused"
	if data.Timer.SessionStartedAt != nil {
		timer = "running"
	}
	r.Line("  elapsed %s (%s)  attempts %d", (time.Duration(elapsed) * time.Millisecond).Round(time.Second), timer, data.Attempts)
	for _, a := range data.History {
		mark, c := "x", r.fail
		if a.AllPassed {
			mark, c = "v", r.ok
		}
		_, _ = c.Fprintf(r.out, "  %s ", mark)
		r.Line("%s  %s  %d/%d  %dms", a.CreatedAt.Local().Format(time.DateTime), a.Language,
			a.PassedCount, a.PassedCount+a.FailedCount, a.ExecutionTimeMs)
	}
}

func (r *Renderer) json(data json.RawMessage) {
	if len(data) == 0 {
		r.Line("ok")
		return
	}
	if r.pretty {
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			r.Line("%s", string(formatted))
			return
		}
	}
	r.Line("%s", string(data))
}

// Frame renders one stream event. Program output is written raw.
func (r *Renderer) Frame(frame stream.Frame) {
	switch frame.Event {
	case stream.EventOutput:
		text := eraseBackspaces(frame.Output)
		if frame.IsError {
			_, _ = r.warn.Fprint(r.out, text)
			return
		}
		r.Printf("%s", text)
	case stream.EventResult:
		if frame.Result == nil {
			return
		}
		r.Printf("\n")
		if frame.Result.Success {
			_, _ = r.ok.Fprintln(r.out, "[finished]")
			return
		}
		_, _ = r.fail.Fprintf(r.out, "[failed] %s\n", strings.TrimRight(frame.Result.Error, "\n"))
	}
}

// eraseBackspaces turns each leading '\b' of an output delta into a terminal erase.
func eraseBackspaces(delta string) string {
	n := len(delta) - len(strings.TrimLeft(delta, "\b"))
	if n == 0 {
		return delta
	}
	return strings.Repeat("\b \b", n) + delta[n:]
}

func truncate(s string) string {
	s = strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", `\n`)
	if len(s) > maxCaseOutput {
		return s[:maxCaseOutput] + "..."
	}
	return s
}
