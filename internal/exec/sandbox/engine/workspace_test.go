package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"judgebox/internal/exec/sandbox/profile"
	appErr "judgebox/pkg/errors"
)

func newTestRunner(t *testing.T, cfg Config) *LocalRunner {
	t.Helper()
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = t.TempDir()
	}
	runner, err := NewLocalRunner(cfg)
	if err != nil {
		t.Fatalf("new runner failed: %v", err)
	}
	return runner
}

func TestPrepareWritesMainSource(t *testing.T) {
	runner := newTestRunner(t, Config{})
	recipe := profile.LanguageRecipe{ID: "python", FileExtension: "py", RunCmdTpl: "python3 -u {src}"}

	ws, err := runner.Prepare(recipe, "print(1)\n")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer runner.Cleanup(ws)

	if filepath.Base(ws.SourcePath) != "main.py" {
		t.Fatalf("unexpected source name: %s", ws.SourcePath)
	}
	if !strings.HasPrefix(filepath.Base(ws.Dir), "ws-") {
		t.Fatalf("unexpected workspace dir: %s", ws.Dir)
	}
	data, err := os.ReadFile(ws.SourcePath)
	if err != nil {
		t.Fatalf("read source failed: %v", err)
	}
	if string(data) != "print(1)\n" {
		t.Fatalf("unexpected source content: %q", data)
	}
}

func TestPrepareUsesUniqueDirectories(t *testing.T) {
	runner := newTestRunner(t, Config{})
	recipe := profile.LanguageRecipe{ID: "c", FileExtension: "c", BinaryFile: "main"}

	first, err := runner.Prepare(recipe, "int main(){}")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	second, err := runner.Prepare(recipe, "int main(){}")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if first.Dir == second.Dir {
		t.Fatalf("expected distinct workspaces, got %s twice", first.Dir)
	}
	if second.BinaryPath != filepath.Join(second.Dir, "main") {
		t.Fatalf("unexpected binary path: %s", second.BinaryPath)
	}
}

func TestPrepareRejectsOversizedSource(t *testing.T) {
	runner := newTestRunner(t, Config{MaxSourceBytes: 8})
	recipe := profile.LanguageRecipe{ID: "python", FileExtension: "py"}

	_, err := runner.Prepare(recipe, "print('too long')")
	if !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
}

func TestPrepareFailsWhenRootMissing(t *testing.T) {
	runner := newTestRunner(t, Config{})
	runner.cfg.WorkRoot = filepath.Join(t.TempDir(), "missing", "nested")

	_, err := runner.Prepare(profile.LanguageRecipe{ID: "python", FileExtension: "py"}, "x")
	if !appErr.Is(err, appErr.WorkspaceError) {
		t.Fatalf("expected WorkspaceError, got %v", err)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	runner := newTestRunner(t, Config{})
	ws, err := runner.Prepare(profile.LanguageRecipe{ID: "python", FileExtension: "py"}, "x")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := runner.Cleanup(ws); err != nil {
		t.Fatalf("first cleanup failed: %v", err)
	}
	if err := runner.Cleanup(ws); err != nil {
		t.Fatalf("second cleanup failed: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
	if err := runner.Cleanup(nil); err != nil {
		t.Fatalf("nil cleanup failed: %v", err)
	}
}

func TestNewLocalRunnerRejectsWhitespaceRoot(t *testing.T) {
	_, err := NewLocalRunner(Config{WorkRoot: filepath.Join(t.TempDir(), "with space")})
	if err == nil {
		t.Fatalf("expected error for whitespace in work root")
	}
}

func TestForkCopiesPreparedFiles(t *testing.T) {
	runner := newTestRunner(t, Config{})
	recipe := profile.LanguageRecipe{ID: "c", FileExtension: "c", BinaryFile: "main"}

	ws, err := runner.Prepare(recipe, "int main(){}")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer runner.Cleanup(ws)
	if err := os.WriteFile(ws.BinaryPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write binary failed: %v", err)
	}

	first, err := runner.Fork(ws, "case-1")
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	second, err := runner.Fork(ws, "case-2")
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	if first.Dir == second.Dir || filepath.Dir(first.Dir) != ws.Dir {
		t.Fatalf("unexpected run dirs: %s %s", first.Dir, second.Dir)
	}
	info, err := os.Stat(first.BinaryPath)
	if err != nil {
		t.Fatalf("binary not copied: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("binary lost its exec bit: %v", info.Mode())
	}
	data, err := os.ReadFile(second.SourcePath)
	if err != nil || string(data) != "int main(){}" {
		t.Fatalf("source not copied: %q %v", data, err)
	}

	if err := os.WriteFile(filepath.Join(first.Dir, "state.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write state failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(second.Dir, "state.txt")); !os.IsNotExist(err) {
		t.Fatalf("file written in one run dir is visible in another: %v", err)
	}

	if err := runner.Cleanup(ws); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(first.Dir); !os.IsNotExist(err) {
		t.Fatalf("run dir survived cleanup: %v", err)
	}
}

func TestForkRejectsBadNames(t *testing.T) {
	runner := newTestRunner(t, Config{})
	ws, err := runner.Prepare(profile.LanguageRecipe{ID: "python", FileExtension: "py"}, "print(1)")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer runner.Cleanup(ws)

	for _, name := range []string{"", "..", "a/b"} {
		if _, err := runner.Fork(ws, name); !appErr.Is(err, appErr.WorkspaceError) {
			t.Fatalf("Fork(%q) err = %v, want WorkspaceError", name, err)
		}
	}
	if _, err := runner.Fork(ws, "case-1"); err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	if _, err := runner.Fork(ws, "case-1"); !appErr.Is(err, appErr.WorkspaceError) {
		t.Fatalf("duplicate fork err = %v, want WorkspaceError", err)
	}
}
