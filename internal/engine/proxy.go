package engine

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// ProxyProvider hands out outbound proxies and learns from their outcomes.
type ProxyProvider interface {
	// Next returns a proxy URL, or "" when none is available. location is a
	// preference hint and may be empty.
	Next(location string) string
	ReportSuccess(proxy string, latency time.Duration)
	ReportFailure(proxy string)
}

// Proxy is one pool member.
type Proxy struct {
	URL      string
	Location string
}

type proxyHealth struct {
	successes int
	failures  int
	latency   time.Duration
	lastUsed  time.Time
}

// RotatingPool picks the healthiest proxy that has not failed recently.
// When every proxy is marked failed the failed set is reset.
type RotatingPool struct {
	mu      sync.Mutex
	proxies []Proxy
	health  map[string]*proxyHealth
	failed  map[string]struct{}
	now     func() time.Time
}

// NewRotatingPool creates a pool over proxies.
func NewRotatingPool(proxies []Proxy) *RotatingPool {
	p := &RotatingPool{
		proxies: slices.Clone(proxies),
		health:  make(map[string]*proxyHealth, len(proxies)),
		failed:  make(map[string]struct{}),
		now:     time.Now,
	}
	for _, px := range proxies {
		p.health[px.URL] = &proxyHealth{}
	}
	return p
}

// ParseProxyList reads entries of the form "url" or "url|location".
func ParseProxyList(entries []string) []Proxy {
	var out []Proxy
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		u, loc, _ := strings.Cut(e, "|")
		out = append(out, Proxy{URL: strings.TrimSpace(u), Location: strings.TrimSpace(loc)})
	}
	return out
}

// score is lower-is-better: failure rate plus a latency penalty, minus a
// small bonus for proxies left idle.
func (h *proxyHealth) score(now time.Time) float64 {
	total := max(h.successes+h.failures, 1)
	failureRate := float64(h.failures) / float64(total)
	latencyPenalty := min(h.latency.Seconds()/10, 1)
	idleBonus := 0.1 // never used
	if !h.lastUsed.IsZero() {
		idleBonus = now.Sub(h.lastUsed).Hours() * 0.1
	}
	return failureRate + latencyPenalty - idleBonus
}

// Next implements ProxyProvider.
func (p *RotatingPool) Next(location string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}

	candidates := p.proxies
	if location != "" {
		var local []Proxy
		for _, px := range p.proxies {
			if strings.EqualFold(px.Location, location) {
				local = append(local, px)
			}
		}
		if len(local) > 0 {
			candidates = local
		}
	}

	now := p.now()
	best := p.pickLocked(candidates, now)
	if best == "" {
		slog.Warn("proxy: all proxies failed, resetting", slog.Int("count", len(p.failed)))
		clear(p.failed)
		best = p.pickLocked(candidates, now)
	}
	if best != "" {
		p.health[best].lastUsed = now
	}
	return best
}

func (p *RotatingPool) pickLocked(candidates []Proxy, now time.Time) string {
	best := ""
	bestScore := 0.0
	for _, px := range candidates {
		if _, bad := p.failed[px.URL]; bad {
			continue
		}
		s := p.health[px.URL].score(now)
		if best == "" || s < bestScore {
			best, bestScore = px.URL, s
		}
	}
	return best
}

// ReportSuccess implements ProxyProvider.
func (p *RotatingPool) ReportSuccess(proxy string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[proxy]
	if !ok {
		return
	}
	delete(p.failed, proxy)
	h.successes++
	h.latency = latency
}

// ReportFailure implements ProxyProvider.
func (p *RotatingPool) ReportFailure(proxy string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[proxy]
	if !ok {
		return
	}
	p.failed[proxy] = struct{}{}
	h.failures++
	slog.Warn("proxy: marked failed", slog.String("proxy", proxy), slog.Int("total_failures", h.failures))
}

// ProxyStats summarizes pool health.
type ProxyStats struct {
	Total          int           `json:"total_proxies"`
	Failed         int           `json:"failed_proxies"`
	Working        int           `json:"working_proxies"`
	AverageLatency time.Duration `json:"avg_response_time"`
}

// Stats returns a pool health snapshot.
func (p *RotatingPool) Stats() ProxyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := ProxyStats{Total: len(p.proxies), Failed: len(p.failed)}
	st.Working = st.Total - st.Failed
	var sum time.Duration
	n := 0
	for _, h := range p.health {
		if h.latency > 0 {
			sum += h.latency
			n++
		}
	}
	if n > 0 {
		st.AverageLatency = sum / time.Duration(n)
	}
	return st
}
