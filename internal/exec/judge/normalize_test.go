package judge

import "testing"

func TestOutputMatches(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		want     bool
	}{
		{"exact", "6\n", "6", true},
		{"trailing spaces", "1 2 3   \n4 5\t\n", "1 2 3\n4 5", true},
		{"trailing blank lines", "ok\n\n\n", "ok", true},
		{"crlf", "a\r\nb\r\n", "a\nb\n", true},
		{"leading space matters", " 6", "6", false},
		{"inner blank line matters", "a\n\nb", "a\nb", false},
		{"no numeric tolerance", "1.0", "1", false},
		{"different value", "7", "6", false},
		{"both empty", "", "\n\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputMatches(tt.actual, tt.expected); got != tt.want {
				t.Fatalf("OutputMatches(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}
