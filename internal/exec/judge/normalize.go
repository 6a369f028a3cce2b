package judge

import "strings"

// Normalize drops carriage returns, trailing whitespace on every line and trailing blank lines.
// Everything else must match exactly.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\v\f")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// OutputMatches compares actual program output against the expected output.
func OutputMatches(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
