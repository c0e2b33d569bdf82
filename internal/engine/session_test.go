package engine

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSession(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	now := time.Now()
	a := newSession(rng, now)
	b := newSession(rng, now)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1.0, a.DelayMultiplier)
	assert.Empty(t, a.Failed)
	assert.Len(t, a.Fingerprint.CanvasHash, 8)
	assert.Contains(t, platforms, a.Fingerprint.Platform)
	assert.Equal(t, 1.0, a.HealthScore(now))
}

func TestShouldRotate(t *testing.T) {
	lim := RotationLimits{MaxRequests: 50, MaxAge: time.Hour, MaxDetections: 3}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sess SessionState
		want bool
	}{
		{"fresh", SessionState{Created: now}, false},
		{"request budget reached", SessionState{Created: now, Requests: 50}, true},
		{"one below budget", SessionState{Created: now, Requests: 49}, false},
		{"too old", SessionState{Created: now.Add(-61 * time.Minute)}, true},
		{"exactly max age", SessionState{Created: now.Add(-time.Hour)}, false},
		{"too many detections", SessionState{Created: now, BotDetections: 4}, true},
		{"detections at limit", SessionState{Created: now, BotDetections: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.ShouldRotate(lim, now))
		})
	}
}

func TestHealthScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := func(n int) map[string]struct{} {
		m := make(map[string]struct{})
		for i := range n {
			m[string(rune('a'+i))] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name string
		sess SessionState
		want float64
	}{
		{"healthy", SessionState{Created: now, Failed: failed(0)}, 1},
		{"two detections", SessionState{Created: now, BotDetections: 2, Failed: failed(0)}, 0.6},
		{"detection penalty capped", SessionState{Created: now, BotDetections: 10, Failed: failed(0)}, 0.2},
		{"failed strategies", SessionState{Created: now, Failed: failed(3)}, 0.7},
		{"age penalty capped", SessionState{Created: now.Add(-5 * time.Hour), Failed: failed(0)}, 0.7},
		{"floored at zero", SessionState{Created: now.Add(-5 * time.Hour), BotDetections: 10, Failed: failed(8)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.sess.HealthScore(now), 1e-9)
		})
	}
}

func TestFailedSet(t *testing.T) {
	s := newSession(rand.New(rand.NewPCG(1, 1)), time.Now())
	s.MarkFailed("b")
	s.MarkFailed("a")
	s.MarkFailed("a")

	assert.True(t, s.IsFailed("a"))
	assert.False(t, s.IsFailed("c"))
	assert.Equal(t, []string{"a", "b"}, s.FailedNames())
	assert.Equal(t, 2, s.ClearFailed())
	assert.Empty(t, s.FailedNames())
}

func TestSessionStatusHidesFullCanvasHash(t *testing.T) {
	now := time.Now()
	s := newSession(rand.New(rand.NewPCG(5, 5)), now)
	st := s.status(RotationLimits{MaxRequests: 50, MaxAge: time.Hour, MaxDetections: 3}, now)

	assert.Equal(t, s.ID, st.ID)
	assert.Equal(t, 50, st.MaxRequests)
	assert.NotEqual(t, s.Fingerprint.CanvasHash, st.CanvasHash)
	assert.False(t, st.ShouldRotate)
}
