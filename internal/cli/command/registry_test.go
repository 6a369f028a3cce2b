package command

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	commands := Registry()
	tests := []struct {
		tokens   []string
		wantKey  string
		wantRest int
		ok       bool
	}{
		{tokens: []string{"progress", "start", "two-sum"}, wantKey: "progress start", wantRest: 1, ok: true},
		{tokens: []string{"progress", "list"}, wantKey: "progress list", wantRest: 0, ok: true},
		{tokens: []string{"progress", "two-sum"}, wantKey: "progress", wantRest: 1, ok: true},
		{tokens: []string{"judge", "two-sum", "main.py"}, wantKey: "judge", wantRest: 2, ok: true},
		{tokens: []string{"health"}, wantKey: "health", wantRest: 0, ok: true},
		{tokens: []string{"compile", "x"}, ok: false},
		{tokens: nil, ok: false},
	}
	for _, tt := range tests {
		cmd, rest, ok := Lookup(commands, tt.tokens)
		if ok != tt.ok {
			t.Fatalf("Lookup(%v) ok = %v, want %v", tt.tokens, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if cmd.Key() != tt.wantKey || len(rest) != tt.wantRest {
			t.Fatalf("Lookup(%v) = %q rest %v", tt.tokens, cmd.Key(), rest)
		}
	}
}

func TestParseArgs(t *testing.T) {
	cmd := Registry()["judge"]

	params, err := ParseArgs(cmd, []string{"two-sum", "main.py"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Get("id") != "two-sum" || params.Get("file") != "main.py" || params.Has("language") {
		t.Fatalf("unexpected params %v", params)
	}

	params, err = ParseArgs(cmd, []string{"lang=go", "problem=two-sum", "main.go"})
	if err != nil {
		t.Fatalf("parse with keys: %v", err)
	}
	if params.Get("id") != "two-sum" || params.Get("file") != "main.go" || params.Get("language") != "go" {
		t.Fatalf("unexpected params %v", params)
	}

	if _, err := ParseArgs(cmd, []string{"two-sum"}); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := ParseArgs(cmd, []string{"a", "b", "c", "d"}); err == nil {
		t.Fatalf("expected too many arguments error")
	}
}

func TestUsage(t *testing.T) {
	if got := Registry()["submit"].Usage(); got != "submit <problem> <file> [language]" {
		t.Fatalf("unexpected usage %q", got)
	}
	if got := Registry()["progress pause"].Usage(); got != "progress pause <problem>" {
		t.Fatalf("unexpected usage %q", got)
	}
}

func TestBuildRequestJudge(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.py")
	if err := os.WriteFile(file, []byte("print(1)\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	cmd := Registry()["submit"]
	params, err := ParseArgs(cmd, []string{"two sum", file})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	spec, err := BuildRequest(cmd, params, func(string) string { return "python" })
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if spec.Method != http.MethodPost || spec.Path != "/problems/two%20sum/submit" {
		t.Fatalf("unexpected request %s %s", spec.Method, spec.Path)
	}
	var body judgePayload
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "print(1)\n" || body.Language != "python" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.py")
	if err := os.WriteFile(empty, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	unknown := filepath.Join(dir, "main.zz")
	if err := os.WriteFile(unknown, []byte("code"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	cmd := Registry()["judge"]

	tests := []struct {
		name   string
		params Params
		langFn func(string) string
	}{
		{name: "missing file", params: Params{"id": "p", "file": filepath.Join(dir, "absent.py")}},
		{name: "empty file", params: Params{"id": "p", "file": empty}},
		{name: "no language", params: Params{"id": "p", "file": unknown}, langFn: func(string) string { return "" }},
		{name: "missing id", params: Params{"file": empty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildRequest(cmd, tt.params, tt.langFn); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildRequestProgressHasNoBody(t *testing.T) {
	cmd := Registry()["progress resume"]
	spec, err := BuildRequest(cmd, Params{"id": "two-sum"}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if spec.Path != "/problems/two-sum/progress/resume" || spec.Body != nil {
		t.Fatalf("unexpected spec %+v", spec)
	}
}
