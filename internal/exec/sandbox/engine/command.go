package engine

import (
	"bytes"
	"fmt"
	"strings"

	"judgebox/internal/exec/sandbox/profile"

	"github.com/google/shlex"
)

// buildCommand expands the recipe placeholders and splits the result into argv.
func buildCommand(tpl string, ws *Workspace) ([]string, error) {
	replacer := strings.NewReplacer(
		profile.PlaceholderSource, ws.SourcePath,
		profile.PlaceholderBinary, ws.BinaryPath,
		profile.PlaceholderDir, ws.Dir,
	)
	argv, err := shlex.Split(replacer.Replace(tpl))
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", tpl, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	return argv, nil
}

// buildEnv returns the minimal environment a child sees.
func buildEnv(ws *Workspace, pathEnv string) []string {
	env := []string{
		"PATH=" + pathEnv,
		"HOME=" + ws.Dir,
		"LANG=C.UTF-8",
		"TMPDIR=" + ws.Dir,
	}
	return append(env, ws.Recipe.Env...)
}

// limitedBuffer keeps the first limit bytes and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n... (truncated)"
	}
	return b.buf.String()
}
