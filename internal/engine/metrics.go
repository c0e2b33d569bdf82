package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// engineMetrics tracks operational counters for one engine.
type engineMetrics struct {
	Requests         atomic.Int64
	CacheHits        atomic.Int64
	AdmissionDenied  atomic.Int64
	QueueTimeouts    atomic.Int64
	Successes        atomic.Int64
	Exhausted        atomic.Int64
	StrategyAttempts atomic.Int64
	StrategyFailures atomic.Int64
	BotDetections    atomic.Int64
	UpstreamLimited  atomic.Int64
	SessionRotations atomic.Int64
}

var metricKeys = []string{
	"extract_requests", "cache_hits", "admission_denied", "queue_timeouts",
	"extract_successes", "extract_exhausted",
	"strategy_attempts", "strategy_failures",
	"bot_detections", "upstream_rate_limited",
	"session_rotations",
}

// Snapshot returns all counters keyed by metric name.
func (m *engineMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"extract_requests":      m.Requests.Load(),
		"cache_hits":            m.CacheHits.Load(),
		"admission_denied":      m.AdmissionDenied.Load(),
		"queue_timeouts":        m.QueueTimeouts.Load(),
		"extract_successes":     m.Successes.Load(),
		"extract_exhausted":     m.Exhausted.Load(),
		"strategy_attempts":     m.StrategyAttempts.Load(),
		"strategy_failures":     m.StrategyFailures.Load(),
		"bot_detections":        m.BotDetections.Load(),
		"upstream_rate_limited": m.UpstreamLimited.Load(),
		"session_rotations":     m.SessionRotations.Load(),
	}
}

// Format renders counters as "name value" lines for the metrics endpoint.
func (m *engineMetrics) Format() string {
	snap := m.Snapshot()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, snap[k])
	}
	return sb.String()
}

// trackOperation logs a warning if an operation takes longer than threshold.
func trackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if elapsed := time.Since(start); elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
