// Package ratelimit provides per-source admission control: a sliding
// request history (per minute and per hour) plus a live concurrency counter.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// DefaultPollInterval is the fixed backoff used by WaitForSlot.
const DefaultPollInterval = 5 * time.Second

// Limits caps request volume for a single source.
type Limits struct {
	PerMinute  int `toml:"per_minute"`
	PerHour    int `toml:"per_hour"`
	Concurrent int `toml:"concurrent"`
}

// DefaultLimits are conservative caps for the video platform.
var DefaultLimits = Limits{
	PerMinute:  100,
	PerHour:    1000,
	Concurrent: 3,
}

// Status is a read-only snapshot of one source.
type Status struct {
	Source        string        `json:"source"`
	CanAdmit      bool          `json:"can_admit"`
	ActiveCount   int           `json:"active_count"`
	HistoryLen    int           `json:"history_len"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

type source struct {
	history []time.Time // ascending
	active  int
}

// Limiter tracks request history and concurrency per named source.
// A single mutex guards all sources.
type Limiter struct {
	mu        sync.Mutex
	limits    Limits
	overrides map[string]Limits
	sources   map[string]*source
	poll      time.Duration
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPollInterval overrides the WaitForSlot backoff.
func WithPollInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithSourceLimits sets dedicated limits for one source.
func WithSourceLimits(name string, lim Limits) Option {
	return func(l *Limiter) { l.overrides[name] = lim }
}

// New creates a limiter applying lim to every source without an override.
func New(lim Limits, opts ...Option) *Limiter {
	l := &Limiter{
		limits:    lim,
		overrides: make(map[string]Limits),
		sources:   make(map[string]*source),
		poll:      DefaultPollInterval,
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CanAdmit reports whether a request for src fits all three caps right now.
func (l *Limiter) CanAdmit(src string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, reason := l.admissible(src, l.now())
	if !ok {
		slog.Debug("ratelimit: denied", slog.String("source", src), slog.String("reason", reason))
	}
	return ok
}

// Record registers a started request. Pair every Record with one Complete.
func (l *Limiter) Record(src string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(src, l.now())
}

// Acquire checks and records under one lock, so no other caller can take
// the slot between the check and the record.
func (l *Limiter) Acquire(src string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	ok, reason := l.admissible(src, now)
	if !ok {
		slog.Info("ratelimit: admission denied", slog.String("source", src), slog.String("reason", reason))
		return false
	}
	l.record(src, now)
	return true
}

// Complete marks a request finished. Extra calls never drive the counter
// below zero.
func (l *Limiter) Complete(src string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sources[src]
	if !ok || s.active == 0 {
		return
	}
	s.active--
	slog.Debug("ratelimit: request completed", slog.String("source", src), slog.Int("active", s.active))
}

// WaitForSlot polls CanAdmit with a fixed backoff until a slot opens, maxWait
// elapses, or ctx is done. It does not record the request.
func (l *Limiter) WaitForSlot(ctx context.Context, src string, maxWait time.Duration) bool {
	if l.CanAdmit(src) {
		return true
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	tick := time.NewTicker(l.poll)
	defer tick.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			slog.Warn("ratelimit: timeout waiting for slot", slog.String("source", src), slog.Duration("max_wait", maxWait))
			return false
		case <-tick.C:
			if l.CanAdmit(src) {
				return true
			}
			slog.Debug("ratelimit: waiting for slot", slog.String("source", src), slog.Duration("waited", time.Since(start)))
		}
	}
}

// Status returns a consistent snapshot for src.
func (l *Limiter) Status(src string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	ok, _ := l.admissible(src, now)
	st := Status{Source: src, CanAdmit: ok}
	if s, found := l.sources[src]; found {
		st.ActiveCount = s.active
		st.HistoryLen = len(s.history)
	}
	if !ok {
		st.EstimatedWait = l.estimateWait(src, now)
	}
	return st
}

// EstimatedWait is Status(src).EstimatedWait.
func (l *Limiter) EstimatedWait(src string) time.Duration {
	return l.Status(src).EstimatedWait
}

func (l *Limiter) limitsFor(src string) Limits {
	if lim, ok := l.overrides[src]; ok {
		return lim
	}
	return l.limits
}

func (l *Limiter) get(src string) *source {
	s, ok := l.sources[src]
	if !ok {
		s = &source{}
		l.sources[src] = s
	}
	return s
}

// admissible must be called with l.mu held.
func (l *Limiter) admissible(src string, now time.Time) (bool, string) {
	s := l.get(src)
	s.prune(now)
	lim := l.limitsFor(src)

	if s.active >= lim.Concurrent {
		return false, "concurrency"
	}
	if s.countSince(now.Add(-minuteWindow)) >= lim.PerMinute {
		return false, "per_minute"
	}
	if len(s.history) >= lim.PerHour {
		return false, "per_hour"
	}
	return true, ""
}

func (l *Limiter) record(src string, now time.Time) {
	s := l.get(src)
	s.prune(now)
	s.history = append(s.history, now)
	s.active++
	slog.Debug("ratelimit: request recorded", slog.String("source", src), slog.Int("active", s.active))
}

// estimateWait must be called with l.mu held.
func (l *Limiter) estimateWait(src string, now time.Time) time.Duration {
	s := l.get(src)
	lim := l.limitsFor(src)
	var wait time.Duration

	if s.active >= lim.Concurrent {
		wait = l.poll
	}
	if lim.PerMinute > 0 {
		if recent := s.since(now.Add(-minuteWindow)); len(recent) >= lim.PerMinute {
			// The slot frees when the entry that keeps us at the cap leaves the window.
			w := recent[len(recent)-lim.PerMinute].Add(minuteWindow).Sub(now)
			wait = max(wait, w)
		}
	} else {
		wait = max(wait, minuteWindow)
	}
	if lim.PerHour > 0 {
		if len(s.history) >= lim.PerHour {
			w := s.history[len(s.history)-lim.PerHour].Add(hourWindow).Sub(now)
			wait = max(wait, w)
		}
	} else {
		wait = max(wait, hourWindow)
	}
	return max(wait, 0)
}

func (s *source) prune(now time.Time) {
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(s.history) && !s.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.history = append(s.history[:0], s.history[i:]...)
	}
}

func (s *source) since(t time.Time) []time.Time {
	for i, ts := range s.history {
		if ts.After(t) {
			return s.history[i:]
		}
	}
	return nil
}

func (s *source) countSince(t time.Time) int {
	return len(s.since(t))
}
