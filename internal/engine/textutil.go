package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go-kit/strutil"
)

// stderrLogLimit caps tool stderr in logs and errors.
const stderrLogLimit = 300

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// truncateStderr caps s at limit runes, appending an ellipsis if truncated.
func truncateStderr(s string, limit int) string {
	return strutil.TruncateWith(strings.TrimSpace(s), limit, "...")
}

// NormalizeTarget turns a bare 11-char video id into a watch URL and checks
// that anything else is an absolute http(s) URL. Any other input starting
// with "-" is rejected.
func NormalizeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	case videoIDRe.MatchString(target):
		return "https://www.youtube.com/watch?v=" + target, nil
	case strings.HasPrefix(target, "-"):
		return "", fmt.Errorf("%w: %q looks like an option", ErrInvalidTarget, target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an http(s) URL or video id", ErrInvalidTarget, target)
	}
	return u.String(), nil
}
