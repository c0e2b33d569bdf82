package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   FailureKind
	}{
		{"ERROR: [youtube] abc: Sign in to confirm you're not a bot. Use --cookies", FailureBotDetected},
		{"ERROR: unable to download video data: HTTP Error 403: Forbidden", FailureBotDetected},
		{"Our systems have detected unusual traffic from your computer network", FailureBotDetected},
		{"ERROR: HTTP Error 429: Too Many Requests", FailureRateLimited},
		{"The quota exceeded for this project", FailureRateLimited},
		{"blocked: too many requests", FailureBotDetected},
		{"ERROR: [youtube] x: Sign in to confirm you're not a bot. Please try again later", FailureBotDetected},
		{"ERROR: HTTP Error 403: Forbidden; try again later", FailureBotDetected},
		{"ERROR: [youtube] abc: Video unavailable", FailureTool},
		{"ERROR: requested format not available; code 4030", FailureTool},
		{"", FailureTool},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStderr(tt.stderr))
		})
	}
}
