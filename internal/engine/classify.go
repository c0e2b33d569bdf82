package engine

import (
	"regexp"
	"strings"
)

// Phrases in tool stderr that mean the platform flagged us as automated.
var botDetectionPatterns = []string{
	"sign in to confirm",
	"confirm you're not a bot",
	"confirm you’re not a bot",
	"automated queries",
	"unusual traffic",
	"verify you're human",
	"captcha",
	"suspicious activity",
	"access denied",
	"blocked",
}

// Phrases that mean we are being throttled.
var rateLimitPatterns = []string{
	"too many requests",
	"rate limit",
	"ratelimit",
	"quota exceeded",
	"slow down",
	"try again later",
}

var (
	status403Re = regexp.MustCompile(`\b(?:http error )?403\b`)
	status429Re = regexp.MustCompile(`\b(?:http error )?429\b`)
)

// ClassifyStderr maps tool stderr onto a failure kind. Bot detection wins
// when both lists match.
func ClassifyStderr(stderr string) FailureKind {
	s := strings.ToLower(stderr)
	if status403Re.MatchString(s) || containsAny(s, botDetectionPatterns) {
		return FailureBotDetected
	}
	if status429Re.MatchString(s) || containsAny(s, rateLimitPatterns) {
		return FailureRateLimited
	}
	return FailureTool
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
