package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolOutput(t *testing.T) {
	out, err := parseToolOutput([]byte(okJSON + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 213.0, out.Duration)
	assert.Equal(t, "Rick Astley", out.artist())

	_, err = parseToolOutput([]byte("  \n"))
	assert.Error(t, err)
	_, err = parseToolOutput([]byte("WARNING: not json"))
	assert.Error(t, err)
}

func TestToolOutputArtistFallback(t *testing.T) {
	assert.Equal(t, "A", toolOutput{Artist: "A", Uploader: "U"}.artist())
	assert.Equal(t, "C", toolOutput{Creator: "C", Channel: "Ch"}.artist())
	assert.Equal(t, "Ch", toolOutput{Uploader: " ", Channel: "Ch"}.artist())
	assert.Equal(t, "Unknown", toolOutput{}.artist())
}

func TestToolOutputCheck(t *testing.T) {
	lim := ResultLimits{MaxDuration: time.Hour, MaxFilesize: 100 << 20}
	tests := []struct {
		name string
		out  toolOutput
		ok   bool
	}{
		{"valid", toolOutput{URL: "https://a/x", Duration: 200, Filesize: 1 << 20}, true},
		{"exactly max duration", toolOutput{URL: "https://a/x", Duration: 3600}, true},
		{"approx size used", toolOutput{URL: "https://a/x", FilesizeApprox: 200 << 20}, false},
		{"no url", toolOutput{Duration: 10}, false},
		{"bad scheme", toolOutput{URL: "file:///etc/passwd"}, false},
		{"too long", toolOutput{URL: "https://a/x", Duration: 3601}, false},
		{"too big", toolOutput{URL: "https://a/x", Filesize: 101 << 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.out.check(lim)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidationFailed)
			}
		})
	}
}

func TestToolOutputResultDefaults(t *testing.T) {
	at := time.Date(2026, 3, 1, 14, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	r := toolOutput{URL: "https://a/x", FilesizeApprox: 42}.result("basic", at)

	assert.Equal(t, "Unknown", r.Title)
	assert.Equal(t, "Unknown", r.DurationString)
	assert.Equal(t, "Unknown", r.Artist)
	assert.Equal(t, int64(42), r.Format.Filesize)
	assert.Equal(t, "basic", r.StrategyUsed)
	assert.Equal(t, at.UTC(), r.ExtractedAt)
}
