// Package toolutil provides shared helper functions for go_ytaudio MCP tools.
package toolutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
)

// BoolOr dereferences an optional tool flag.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// UserError rewrites engine failures into messages an MCP client can act on.
// Unknown errors pass through unchanged.
func UserError(err error) error {
	if err == nil {
		return nil
	}
	var rle *engine.RateLimitError
	switch {
	case errors.As(err, &rle):
		return fmt.Errorf("rate limit exceeded, retry after %s: %w", rle.RetryAfter.Round(time.Second), err)
	case errors.Is(err, engine.ErrInvalidTarget):
		return fmt.Errorf("url must be a video URL or an 11-character video id: %w", err)
	case errors.Is(err, engine.ErrQueueTimeout):
		return fmt.Errorf("extraction is still queued, try again shortly: %w", err)
	case errors.Is(err, engine.ErrBotDetected):
		return fmt.Errorf("the platform is blocking automated requests, try again later or rotate the session: %w", err)
	case errors.Is(err, engine.ErrUpstreamRateLimited):
		return fmt.Errorf("the platform is throttling requests, try again later: %w", err)
	case errors.Is(err, engine.ErrExtractionUnavailable):
		return fmt.Errorf("no audio stream could be extracted: %w", err)
	}
	return err
}
