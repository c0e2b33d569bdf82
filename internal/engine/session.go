package engine

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Fingerprint is the simulated browser identity of one session.
type Fingerprint struct {
	Platform         string  `json:"platform"`
	ScreenWidth      int     `json:"screen_width"`
	ScreenHeight     int     `json:"screen_height"`
	TimezoneOffset   int     `json:"timezone_offset"` // minutes
	CanvasHash       string  `json:"canvas_hash"`
	WebGLVendor      string  `json:"webgl_vendor"`
	CPUCores         int     `json:"cpu_cores"`
	MemoryGB         int     `json:"memory_gb"`
	DevicePixelRatio float64 `json:"device_pixel_ratio"`
	TouchSupport     bool    `json:"touch_support"`
	AcceptLanguage   string  `json:"accept_language"`
}

var (
	screenResolutions = [][2]int{
		{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900},
		{1280, 720}, {1600, 900}, {2560, 1440}, {3840, 2160},
	}
	timezoneOffsets = []int{-480, -420, -360, -300, -240, -180, 0, 60, 120, 240, 480, 540}
	webGLVendors    = []string{
		"Google Inc. (NVIDIA)", "Google Inc. (AMD)", "Google Inc. (Intel)",
		"Mozilla", "WebKit WebGL",
	}
	platforms       = []string{"Win32", "MacIntel", "Linux x86_64"}
	cpuCores        = []int{2, 4, 6, 8, 12, 16}
	memorySizes     = []int{4, 8, 16, 32}
	pixelRatios     = []float64{1, 1.25, 1.5, 2}
	acceptLanguages = []string{
		"id-ID,id;q=0.9,en-US;q=0.8,en;q=0.7",
		"en-US,en;q=0.9,id;q=0.8",
		"id-ID,id;q=0.9,en;q=0.8",
	}
)

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}

// shortHash returns n hex chars derived from rng.
func shortHash(rng *rand.Rand, n int) string {
	sum := md5.Sum(fmt.Appendf(nil, "%v", rng.Float64()))
	return hex.EncodeToString(sum[:])[:n]
}

// NewFingerprint draws a realistic browser fingerprint from rng.
func NewFingerprint(rng *rand.Rand) Fingerprint {
	res := pick(rng, screenResolutions)
	return Fingerprint{
		Platform:         pick(rng, platforms),
		ScreenWidth:      res[0],
		ScreenHeight:     res[1],
		TimezoneOffset:   pick(rng, timezoneOffsets),
		CanvasHash:       shortHash(rng, 8),
		WebGLVendor:      pick(rng, webGLVendors),
		CPUCores:         pick(rng, cpuCores),
		MemoryGB:         pick(rng, memorySizes),
		DevicePixelRatio: pick(rng, pixelRatios),
		TouchSupport:     rng.IntN(2) == 1,
		AcceptLanguage:   pick(rng, acceptLanguages),
	}
}

// SessionState is the adaptive state of the current client identity.
// It is replaced wholesale on rotation. Guarded by Engine.mu.
type SessionState struct {
	ID              string
	Created         time.Time
	Requests        int
	BotDetections   int
	DelayMultiplier float64
	Failed          map[string]struct{}
	Fingerprint     Fingerprint
}

func newSession(rng *rand.Rand, now time.Time) *SessionState {
	return &SessionState{
		ID:              uuid.NewString(),
		Created:         now,
		DelayMultiplier: 1,
		Failed:          make(map[string]struct{}),
		Fingerprint:     NewFingerprint(rng),
	}
}

// RotationLimits decide when a session has been used long enough.
type RotationLimits struct {
	MaxRequests   int
	MaxAge        time.Duration
	MaxDetections int
}

// ShouldRotate reports whether the session exceeded any rotation limit.
func (s *SessionState) ShouldRotate(lim RotationLimits, now time.Time) bool {
	return s.Requests >= lim.MaxRequests ||
		now.Sub(s.Created) > lim.MaxAge ||
		s.BotDetections > lim.MaxDetections
}

// HealthScore is in [0, 1]; higher is better. Detections, failed
// strategies and age each subtract a capped penalty.
func (s *SessionState) HealthScore(now time.Time) float64 {
	score := 1.0
	score -= min(float64(s.BotDetections)*0.2, 0.8)
	score -= min(float64(len(s.Failed))*0.1, 0.5)
	score -= min(now.Sub(s.Created).Hours()/2, 0.3)
	return max(score, 0)
}

// MarkFailed adds a strategy to the failed set.
func (s *SessionState) MarkFailed(name string) {
	s.Failed[name] = struct{}{}
}

// IsFailed reports whether a strategy is in the failed set.
func (s *SessionState) IsFailed(name string) bool {
	_, ok := s.Failed[name]
	return ok
}

// ClearFailed empties the failed set and returns how many entries it held.
func (s *SessionState) ClearFailed() int {
	n := len(s.Failed)
	clear(s.Failed)
	return n
}

// FailedNames returns the failed set in sorted order.
func (s *SessionState) FailedNames() []string {
	names := make([]string, 0, len(s.Failed))
	for name := range s.Failed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SessionStatus is the monitoring view of a session.
type SessionStatus struct {
	ID               string   `json:"session_id"`
	AgeSeconds       float64  `json:"session_duration"`
	Requests         int      `json:"requests_this_session"`
	MaxRequests      int      `json:"max_requests_per_session"`
	BotDetections    int      `json:"bot_detection_count"`
	DelayMultiplier  float64  `json:"adaptive_delay_multiplier"`
	FailedStrategies []string `json:"failed_strategies"`
	Platform         string   `json:"platform"`
	ScreenResolution string   `json:"screen_resolution"`
	CanvasHash       string   `json:"canvas_hash"` // partial
	TouchSupport     bool     `json:"touch_support"`
	HealthScore      float64  `json:"health_score"`
	ShouldRotate     bool     `json:"should_rotate"`
}

func (s *SessionState) status(lim RotationLimits, now time.Time) SessionStatus {
	fp := s.Fingerprint
	return SessionStatus{
		ID:               s.ID,
		AgeSeconds:       now.Sub(s.Created).Seconds(),
		Requests:         s.Requests,
		MaxRequests:      lim.MaxRequests,
		BotDetections:    s.BotDetections,
		DelayMultiplier:  s.DelayMultiplier,
		FailedStrategies: s.FailedNames(),
		Platform:         fp.Platform,
		ScreenResolution: fmt.Sprintf("%dx%d", fp.ScreenWidth, fp.ScreenHeight),
		CanvasHash:       fp.CanvasHash[:min(4, len(fp.CanvasHash))] + "...",
		TouchSupport:     fp.TouchSupport,
		HealthScore:      s.HealthScore(now),
		ShouldRotate:     s.ShouldRotate(lim, now),
	}
}
