package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"dQw4w9WgXcQ", testURL, false},
		{"  dQw4w9WgXcQ\n", testURL, false},
		{"-abcdefghij", "https://www.youtube.com/watch?v=-abcdefghij", false},
		{"https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", false},
		{testURL, testURL, false},
		{"", "", true},
		{"--exec", "", true},
		{"-o/tmp/x", "", true},
		{"ftp://host/file", "", true},
		{"not a url", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTarget(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncateStderr(t *testing.T) {
	assert.Equal(t, "short", truncateStderr("  short\n", 10))
	got := truncateStderr(strings.Repeat("x", 50), 10)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), 13)
}
