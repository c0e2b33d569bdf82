package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded means admission control refused the request.
	ErrRateLimitExceeded = errors.New("rate limit exceeded, please try again later")
	// ErrQueueTimeout means the caller stopped waiting for the queued job.
	ErrQueueTimeout = errors.New("timed out waiting for extraction")
	// ErrBotDetected classifies a strategy blocked by anti-automation checks.
	ErrBotDetected = errors.New("bot detection triggered")
	// ErrUpstreamRateLimited classifies a strategy throttled by the platform.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrExtractionUnavailable means every strategy failed.
	ErrExtractionUnavailable = errors.New("audio stream unavailable")
	// ErrValidationFailed classifies tool output that did not pass checks.
	ErrValidationFailed = errors.New("extraction result failed validation")
	// ErrInvalidTarget rejects input that is neither a URL nor a video id.
	ErrInvalidTarget = errors.New("invalid video target")
)

// RateLimitError is returned when admission is denied.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: source %s, retry after %s", ErrRateLimitExceeded, e.Source, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// FailureKind classifies why one strategy attempt failed.
type FailureKind string

const (
	FailureBotDetected FailureKind = "bot_detected"
	FailureRateLimited FailureKind = "rate_limited"
	FailureTimeout     FailureKind = "timeout"
	FailureTool        FailureKind = "tool_error"
	FailureOutput      FailureKind = "bad_output"
	FailureValidation  FailureKind = "validation"
)

// StrategyError records one failed attempt.
type StrategyError struct {
	Strategy string
	Kind     FailureKind
	Stderr   string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %s: %v", e.Strategy, e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// ExhaustedError is returned when no strategy produced a usable stream.
// It matches ErrExtractionUnavailable and the last attempt's cause.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: %s after %d attempts", ErrExtractionUnavailable, e.URL, e.Attempts)
	}
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrExtractionUnavailable, e.URL, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExtractionUnavailable}
	}
	return []error{ErrExtractionUnavailable, e.Last}
}
