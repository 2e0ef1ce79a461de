package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"", 0},
		{"30s", 30 * time.Second},
		{"720h", 720 * time.Hour},
		{"2d", 2 * Day},
		{"1w", Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"1.5d", 36 * time.Hour},
		{" 2W ", 2 * Week},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"abc", "5x", "d5"} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3*time.Minute + 20*time.Second, "3m 20s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{3*Day + 4*time.Hour, "3d 4h"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.d))
	}
}
