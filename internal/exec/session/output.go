package session

import (
	"strings"
	"unicode/utf8"
)

// RenderBackspaces replays text through a stack: each rune is pushed and '\b' pops one.
func RenderBackspaces(text string) string {
	if !strings.ContainsRune(text, '\b') {
		return text
	}
	stack := make([]rune, 0, len(text))
	for _, r := range text {
		if r == '\b' {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		stack = append(stack, r)
	}
	return string(stack)
}

// renderDelta returns what must be sent to turn prev into next.
// Runes removed from prev are expressed as leading '\b' characters.
func renderDelta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	prevRunes := []rune(prev)
	nextRunes := []rune(next)
	common := 0
	for common < len(prevRunes) && common < len(nextRunes) && prevRunes[common] == nextRunes[common] {
		common++
	}
	return strings.Repeat("\b", len(prevRunes)-common) + string(nextRunes[common:])
}

// splitUTF8 returns the longest prefix of data made of complete runes and the remaining tail.
func splitUTF8(data []byte) ([]byte, []byte) {
	end := len(data)
	// A rune is at most utf8.UTFMax bytes, so only the tail needs checking.
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				end = i
			}
			break
		}
	}
	return data[:end], data[end:]
}

// outputTracker holds the output of one run and decides what to emit per chunk.
// rendered always covers every accepted byte, including echoes kept off the stream.
type outputTracker struct {
	dedupEcho bool

	pending  [2][]byte
	raw      []byte
	stderr   []byte
	rendered string
	accepted int

	echo      string
	echoArmed bool
}

func newOutputTracker(dedupEcho bool) *outputTracker {
	return &outputTracker{dedupEcho: dedupEcho}
}

// inputSent arms echo suppression for the next chunk against the line just written.
func (t *outputTracker) inputSent(line string) {
	t.echo = strings.TrimRight(line, "\r\n")
	t.echoArmed = t.echo != ""
}

// push accepts one chunk and returns the delta to emit, if any.
func (t *outputTracker) push(data []byte, isErr bool) (string, bool) {
	idx := 0
	if isErr {
		idx = 1
	}
	buf := append(t.pending[idx], data...)
	complete, rest := splitUTF8(buf)
	t.pending[idx] = append([]byte(nil), rest...)
	if len(complete) == 0 {
		return "", false
	}
	text := string(complete)

	suppress := false
	if t.echoArmed {
		t.echoArmed = false
		suppress = t.dedupEcho && t.isEcho(text)
	}

	t.raw = append(t.raw, complete...)
	if isErr {
		t.stderr = append(t.stderr, complete...)
	}
	var next string
	if strings.ContainsRune(text, '\b') {
		next = RenderBackspaces(string(t.raw))
	} else {
		next = t.rendered + text
	}
	delta := renderDelta(t.rendered, next)
	t.rendered = next
	t.accepted++
	if suppress {
		return "", false
	}
	return delta, delta != ""
}

// isEcho reports whether text only repeats the line the client already rendered locally.
func (t *outputTracker) isEcho(text string) bool {
	if strings.ContainsRune(text, '\b') {
		return false
	}
	return strings.TrimRight(text, "\r\n") == t.echo
}

type pendingOutput struct {
	text  string
	isErr bool
}

// flush renders any incomplete trailing bytes as-is once the streams are closed.
func (t *outputTracker) flush() []pendingOutput {
	var deltas []pendingOutput
	for idx := range t.pending {
		if len(t.pending[idx]) == 0 {
			continue
		}
		tail := t.pending[idx]
		t.pending[idx] = nil
		t.raw = append(t.raw, tail...)
		t.accepted++
		if idx == 1 {
			t.stderr = append(t.stderr, tail...)
		}
		next := RenderBackspaces(string(t.raw))
		if delta := renderDelta(t.rendered, next); delta != "" {
			deltas = append(deltas, pendingOutput{text: delta, isErr: idx == 1})
		}
		t.rendered = next
	}
	return deltas
}

func (t *outputTracker) output() string {
	return t.rendered
}

func (t *outputTracker) stderrText() string {
	return RenderBackspaces(string(t.stderr))
}

func (t *outputTracker) endsWithNewline() bool {
	return strings.HasSuffix(t.rendered, "\n")
}
