package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"judgebox/internal/cli/command"
	httpclient "judgebox/internal/cli/http"
	"judgebox/internal/cli/state"
	"judgebox/internal/cli/stream"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	promptIdle  = "judgebox> "
	promptInput = "input> "
	executePath = "/ws/execute"
)

var runCommand = command.Command{
	Service: "run",
	Fields: []command.Field{
		{Name: "file", Aliases: []string{"source_file"}, Prompt: "file", Type: command.FieldFile, Required: true},
		{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: command.FieldLanguage},
		{Name: "input", Aliases: []string{"stdin"}, Prompt: "input-file", Type: command.FieldFile},
	},
	Help: "stream a source file over the execute socket; typed lines become stdin",
}

// Options configures a Session.
type Options struct {
	TokenState  *state.TokenState
	StatePath   string
	PrettyJSON  bool
	HistoryFile string
	LanguageFor func(string) string
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	commands map[string]command.Command
	opts     Options
	rl       *readline.Instance
	render   *Renderer

	mu      sync.Mutex
	conn    *stream.Conn
	running bool
}

func New(client *httpclient.Client, commands map[string]command.Command, opts Options) (*Session, error) {
	if opts.TokenState == nil {
		opts.TokenState = &state.TokenState{}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptIdle,
		HistoryFile:     opts.HistoryFile,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return &Session{
		client:   client,
		commands: commands,
		opts:     opts,
		rl:       rl,
		render:   NewRenderer(rl.Stdout(), opts.PrettyJSON),
	}, nil
}

// Run reads lines until exit, EOF or ctx cancellation.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()
	go func() {
		<-ctx.Done()
		_ = s.rl.Close()
	}()

	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if s.isRunning() {
				s.stopRun()
				continue
			}
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input failed: %w", err)
		}

		if s.isRunning() {
			s.handleRunningLine(line)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := s.handleLine(ctx, line); done {
			return nil
		}
	}
}

// handleRunningLine routes input while a program is active.
func (s *Session) handleRunningLine(line string) {
	if strings.TrimSpace(line) == "stop" {
		s.stopRun()
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendInput(line + "\n"); err != nil {
		s.render.Error("%v", err)
	}
	s.rl.SetPrompt("")
}

func (s *Session) handleLine(ctx context.Context, line string) bool {
	tokens, err := shlex.Split(line)
	if err != nil {
		s.render.Error("parse command failed: %v", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}
	switch tokens[0] {
	case "exit", "quit":
		s.render.Line("bye")
		return true
	case "help":
		s.printHelp()
		return false
	case "set":
		s.handleSet(tokens[1:])
		return false
	case "show":
		s.handleShow(tokens[1:])
		return false
	case "stop":
		s.render.Line("no program is running")
		return false
	case "run":
		if err := s.startRun(ctx, tokens[1:]); err != nil {
			s.render.Error("%v", err)
		}
		return false
	}

	if err := s.handleCommand(ctx, tokens); err != nil {
		s.render.Error("%v", err)
	}
	return false
}

func (s *Session) handleSet(args []string) {
	if len(args) == 0 {
		s.render.Line("usage: set base|token|timeout")
		return
	}
	switch args[0] {
	case "base":
		if len(args) < 2 {
			s.render.Line("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(args[1])
		s.dropConn()
		s.render.Line("base set to %s", s.client.BaseURL())
	case "timeout":
		if len(args) < 2 {
			s.render.Line("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			s.render.Line("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.render.Line("timeout set to %s", dur)
	case "token":
		if len(args) < 2 {
			s.render.Line("usage: set token <access_token>")
			return
		}
		s.opts.TokenState.AccessToken = args[1]
		s.opts.TokenState.SavedAt = time.Now()
		s.dropConn()
		if err := state.Save(s.opts.StatePath, *s.opts.TokenState); err != nil {
			s.render.Line("save token failed: %v", err)
			return
		}
		s.render.Line("token updated")
	default:
		s.render.Line("unknown set command")
	}
}

func (s *Session) handleShow(args []string) {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	switch topic {
	case "token":
		s.render.Line("token: %s", s.opts.TokenState.Masked())
	case "config":
		s.render.Line("base: %s", s.client.BaseURL())
		s.render.Line("tokenStatePath: %s", s.opts.StatePath)
		s.render.Line("historyFile: %s", s.opts.HistoryFile)
	default:
		s.render.Line("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, tokens []string) error {
	cmd, args, ok := command.Lookup(s.commands, tokens)
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	params, err := command.ParseArgs(cmd, args)
	if err != nil {
		return err
	}
	if cmd.RequiresAuth && s.client.Token() == "" {
		s.render.Line("no token set, the server may reject the request (set token <jwt>)")
	}
	req, err := command.BuildRequest(cmd, params, s.opts.LanguageFor)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.render.Response(cmd.Render, resp)
	return nil
}

func (s *Session) startRun(ctx context.Context, args []string) error {
	params, err := command.ParseArgs(runCommand, args)
	if err != nil {
		return err
	}
	file := params.Get("file")
	code, err := command.ReadFile(file)
	if err != nil {
		return err
	}
	language := params.Get("language")
	if language == "" && s.opts.LanguageFor != nil {
		language = s.opts.LanguageFor(file)
	}
	var input string
	if path := params.Get("input"); path != "" {
		if input, err = command.ReadFile(path); err != nil {
			return err
		}
	}

	conn, err := s.ensureConn(ctx)
	if err != nil {
		return err
	}
	s.setRunning(true)
	if err := conn.Execute(language, code, input); err != nil {
		s.setRunning(false)
		s.dropConn()
		return err
	}
	return nil
}

func (s *Session) ensureConn(ctx context.Context) (*stream.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	wsURL, err := s.client.WebSocketURL(executePath)
	if err != nil {
		return nil, err
	}
	conn, err := stream.Dial(ctx, wsURL, s.client.Token())
	if err != nil {
		return nil, err
	}
	s.conn = conn
	go s.pump(conn)
	return conn, nil
}

// pump renders frames for one connection until it closes.
func (s *Session) pump(conn *stream.Conn) {
	for frame := range conn.Frames() {
		switch frame.Event {
		case stream.EventWaitingForInput:
			s.rl.SetPrompt(promptInput)
			s.rl.Refresh()
		case stream.EventResult:
			s.render.Frame(frame)
			s.setRunning(false)
		default:
			s.render.Frame(frame)
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if err := conn.Err(); err != nil && wasRunning {
		s.render.Error("connection lost: %v", err)
	}
	s.rl.SetPrompt(promptIdle)
	s.rl.Refresh()
}

func (s *Session) stopRun() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Stop(); err != nil {
		s.render.Error("%v", err)
	}
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	if running {
		s.rl.SetPrompt("")
	} else {
		s.rl.SetPrompt(promptIdle)
	}
	s.rl.Refresh()
}

func (s *Session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) shutdown() {
	s.dropConn()
	_ = s.rl.Close()
}

func (s *Session) printHelp() {
	s.render.Line("usage: <command> args... (positional or key=value)")
	s.render.Line("  %-40s %s", runCommand.Usage(), runCommand.Help)
	s.render.Line("  %-40s %s", "stop", "stop the running program (or Ctrl-C)")
	for _, cmd := range command.Sorted(s.commands) {
		s.render.Line("  %-40s %s", cmd.Usage(), cmd.Help)
	}
	s.render.Line("system: help | exit | set base|timeout|token | show token|config")
	s.render.Line("examples:")
	s.render.Line("  run ./hello.py")
	s.render.Line("  judge two-sum ./solution.cpp")
	s.render.Line("  submit two-sum ./solution.py python")
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	children := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, cmd := range command.Sorted(commands) {
		if _, seen := children[cmd.Service]; !seen {
			order = append(order, cmd.Service)
			children[cmd.Service] = nil
		}
		if cmd.Action != "" {
			children[cmd.Service] = append(children[cmd.Service], readline.PcItem(cmd.Action))
		}
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("run"),
		readline.PcItem("stop"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, children[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}
