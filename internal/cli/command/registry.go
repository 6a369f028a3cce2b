package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var (
	problemField  = Field{Name: "id", Aliases: []string{"problem", "problem_id"}, Prompt: "problem", Type: FieldString, Required: true}
	fileField     = Field{Name: "file", Aliases: []string{"source_file"}, Prompt: "file", Type: FieldFile, Required: true}
	languageField = Field{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldLanguage}
)

// Registry returns all HTTP-backed CLI commands keyed by Command.Key.
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/run-tests",
			RequiresAuth: true,
			Fields:       []Field{problemField, fileField, languageField},
			Render:       RenderRunTests,
			Help:         "run a source file against the visible test cases",
		},
		{
			Service:      "submit",
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/submit",
			RequiresAuth: true,
			Fields:       []Field{problemField, fileField, languageField},
			Render:       RenderSubmit,
			Help:         "judge a source file against every test case and record the attempt",
		},
		{
			Service:      "progress",
			Method:       http.MethodGet,
			PathTemplate: "/problems/:id/progress",
			RequiresAuth: true,
			Fields:       []Field{problemField},
			Render:       RenderProgress,
			Help:         "show progress and recent attempts for a problem",
		},
		{
			Service:      "progress",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: "/progress",
			RequiresAuth: true,
			Render:       RenderProgressList,
			Help:         "list every problem with recorded progress",
		},
		{
			Service:      "progress",
			Action:       "start",
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/progress/start",
			RequiresAuth: true,
			Fields:       []Field{problemField},
			Render:       RenderProgress,
			Help:         "start the timer for a problem",
		},
		{
			Service:      "progress",
			Action:       "pause",
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/progress/pause",
			RequiresAuth: true,
			Fields:       []Field{problemField},
			Render:       RenderProgress,
			Help:         "pause the running timer",
		},
		{
			Service:      "progress",
			Action:       "resume",
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/progress/resume",
			RequiresAuth: true,
			Fields:       []Field{problemField},
			Render:       RenderProgress,
			Help:         "resume a paused timer",
		},
		{
			Service:      "health",
			Method:       http.MethodGet,
			PathTemplate: "/healthz",
			Render:       RenderJSON,
			Help:         "show service health",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Lookup resolves "service action" first, then "service". It returns the remaining args.
func Lookup(commands map[string]Command, tokens []string) (Command, []string, bool) {
	if len(tokens) == 0 {
		return Command{}, nil, false
	}
	if len(tokens) >= 2 {
		if cmd, ok := commands[tokens[0]+" "+tokens[1]]; ok {
			return cmd, tokens[2:], true
		}
	}
	cmd, ok := commands[tokens[0]]
	return cmd, tokens[1:], ok
}

// Sorted returns commands in stable key order for help output.
func Sorted(commands map[string]Command) []Command {
	list := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
	return list
}

// BuildRequest renders the path and body. languageFor infers a language from the file name.
func BuildRequest(cmd Command, params Params, languageFor func(string) string) (RequestSpec, error) {
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	spec := RequestSpec{Method: cmd.Method, Path: path}

	payload, err := buildPayload(cmd, params, languageFor)
	if err != nil {
		return RequestSpec{}, err
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
		spec.Body = body
	}
	return spec, nil
}

func buildPath(template string, params Params) (string, error) {
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		name := strings.TrimPrefix(segment, ":")
		value := strings.TrimSpace(params.Get(name))
		if value == "" {
			return "", fmt.Errorf("missing path param: %s", name)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

type judgePayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func buildPayload(cmd Command, params Params, languageFor func(string) string) (interface{}, error) {
	switch cmd.Service {
	case "judge", "submit":
		file := params.Get("file")
		code, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("source file %s is empty", file)
		}
		language := params.Get("language")
		if language == "" && languageFor != nil {
			language = languageFor(file)
		}
		if language == "" {
			return nil, fmt.Errorf("cannot infer language for %s, pass it explicitly", file)
		}
		return judgePayload{Code: code, Language: language}, nil
	}
	return nil, nil
}
