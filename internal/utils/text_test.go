package contextutils

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello", 3, "hel"},
		{"zero", "hello", 0, ""},
		{"cyrillic mid rune", "привет", 3, "п"},
		{"cyrillic on boundary", "привет", 4, "пр"},
		{"emoji", "ok👍", 4, "ok"},
		{"cjk", "日本語", 7, "日本"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateBytes(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}
}
