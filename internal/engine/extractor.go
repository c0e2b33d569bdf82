// Package engine extracts playable audio stream URLs from a video platform
// that blocks automated clients. An Engine combines admission control, a
// priority worker pool, rotating client strategies and a result cache.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_ytaudio/internal/engine/journal"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/queue"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/ratelimit"
)

// ErrJournalDisabled is returned by StrategyStats without a journal.
var ErrJournalDisabled = errors.New("attempt journal disabled")

// journalRetention bounds how long an owned journal keeps attempts.
const journalRetention = 30 * 24 * time.Hour

// AttemptJournal persists strategy attempts.
type AttemptJournal interface {
	Record(ctx context.Context, a journal.Attempt) error
	StrategyStats(ctx context.Context) ([]journal.StrategyStat, error)
	Close() error
}

// ExtractOptions tune one Extract call.
type ExtractOptions struct {
	Priority queue.Priority
	Stealth  bool // false = basic strategy plus fallback
	UseProxy bool
	UseCache bool
}

// DefaultExtractOptions is a cached stealth extraction at normal priority.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{Priority: queue.Normal, Stealth: true, UseCache: true}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg     Config
	limiter *ratelimit.Limiter
	queue   *queue.Queue[ExtractionResult]
	cache   *ResultCache
	runner  Runner
	prober  Prober
	proxies ProxyProvider
	journal AttemptJournal
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	pacer   *rate.Limiter
	metrics engineMetrics

	ownsCache   bool
	ownsJournal bool

	mu      sync.Mutex // guards session and rng
	rng     *rand.Rand
	session *SessionState

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option { return func(e *Engine) { e.runner = r } }

// WithProber replaces the stream URL probe.
func WithProber(p Prober) Option { return func(e *Engine) { e.prober = p } }

// WithProxyProvider enables proxied extraction.
func WithProxyProvider(p ProxyProvider) Option { return func(e *Engine) { e.proxies = p } }

// WithJournal records every strategy attempt.
func WithJournal(j AttemptJournal) Option { return func(e *Engine) { e.journal = j } }

// WithSleep replaces the cancellable sleep used for delays and pauses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithRand seeds strategy and fingerprint generation.
func WithRand(rng *rand.Rand) Option { return func(e *Engine) { e.rng = rng } }

// WithLimiter shares an existing limiter.
func WithLimiter(l *ratelimit.Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithCache shares an existing result cache.
func WithCache(c *ResultCache) Option { return func(e *Engine) { e.cache = c } }

// New builds an engine from cfg. Optional backends that fail to connect
// (Redis, journal) are logged and skipped.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if e.runner == nil {
		e.runner = NewExecRunner(cfg.ToolPath)
	}
	if e.prober == nil {
		e.prober = NewHTTPProber(cfg.ProbeTimeout, cfg.ProbeRetries)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(cfg.Limits)
	}
	if e.cache == nil {
		var copts []CacheOption
		copts = append(copts, WithCacheClock(e.now))
		if cfg.RedisURL != "" {
			rdb, err := ConnectRedis(e.ctx, cfg.RedisURL)
			if err != nil {
				slog.Warn("cache: L2 disabled", slog.Any("error", err))
			} else {
				copts = append(copts, WithRedis(rdb))
			}
		}
		e.cache = NewResultCache(cfg.CacheTTL, cfg.CacheMaxEntries, copts...)
		e.ownsCache = true
		go e.cache.Run(e.ctx, 5*time.Minute)
	}
	if e.journal == nil && cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			slog.Warn("journal: disabled", slog.Any("error", err))
		} else {
			if n, err := j.Prune(e.ctx, e.now().Add(-journalRetention)); err == nil && n > 0 {
				slog.Info("journal: pruned old attempts", slog.Int64("removed", n))
			}
			e.journal = j
			e.ownsJournal = true
		}
	}

	e.queue = queue.New[ExtractionResult](cfg.MaxWorkers)
	e.session = newSession(e.rng, e.now())
	e.pacer = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)

	slog.Info("engine: initialized",
		slog.String("session_id", e.session.ID),
		slog.Int("max_workers", cfg.MaxWorkers),
		slog.Bool("redis", e.cache.Stats().Redis),
		slog.Bool("journal", e.journal != nil),
		slog.Bool("proxies", e.proxies != nil),
	)
	return e, nil
}

// Extract returns a playable audio stream for target (a URL or video id).
// Failures reaching the caller are admission denial (RateLimitError),
// ErrQueueTimeout and exhaustion (ExhaustedError).
func (e *Engine) Extract(ctx context.Context, target string, opts ExtractOptions) (ExtractionResult, error) {
	var zero ExtractionResult
	target, err := NormalizeTarget(target)
	if err != nil {
		return zero, err
	}
	if opts.Priority == 0 {
		opts.Priority = queue.Normal
	}
	e.metrics.Requests.Add(1)

	if opts.UseCache {
		if r, ok := e.cache.Get(ctx, target); ok {
			e.metrics.CacheHits.Add(1)
			slog.Info("engine: cache hit", slog.String("url", target))
			return r, nil
		}
	}

	if !e.admit(ctx) {
		e.metrics.AdmissionDenied.Add(1)
		wait := e.limiter.EstimatedWait(e.cfg.Source)
		slog.Warn("engine: admission denied", slog.String("url", target), slog.Duration("retry_after", wait))
		return zero, &RateLimitError{Source: e.cfg.Source, RetryAfter: wait}
	}

	release := sync.OnceFunc(func() { e.limiter.Complete(e.cfg.Source) })
	job := func(jctx context.Context) (ExtractionResult, error) {
		defer release()
		return e.run(jctx, target, opts)
	}
	id, err := e.queue.Submit(job, opts.Priority, e.cfg.JobTimeout)
	if err != nil {
		release()
		return zero, fmt.Errorf("engine: submit: %w", err)
	}

	res, err := e.queue.AwaitResult(ctx, id, e.cfg.ResultTimeout)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, queue.ErrTimeout):
		e.metrics.QueueTimeouts.Add(1)
		return zero, fmt.Errorf("%w: %w", ErrQueueTimeout, err)
	case errors.Is(err, queue.ErrClosed):
		release()
	}
	return zero, err
}

// admit takes a limiter slot, optionally waiting up to AdmissionWait.
func (e *Engine) admit(ctx context.Context) bool {
	src := e.cfg.Source
	if e.limiter.Acquire(src) {
		return true
	}
	if e.cfg.AdmissionWait <= 0 {
		return false
	}
	deadline := e.now().Add(e.cfg.AdmissionWait)
	for {
		remaining := deadline.Sub(e.now())
		if remaining <= 0 || !e.limiter.WaitForSlot(ctx, src, remaining) {
			return false
		}
		if e.limiter.Acquire(src) {
			return true
		}
	}
}

// runPlan is the per-run snapshot taken under e.mu.
type runPlan struct {
	sessionID  string
	strategies []Strategy
}

func (e *Engine) plan(target string, opts ExtractOptions) runPlan {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.ShouldRotate(e.rotationLimits(), e.now()) {
		e.rotateLocked("automatic")
	}
	e.session.Requests++

	var ordered []Strategy
	if opts.Stealth {
		all := BuildStealthStrategies(e.rng, e.session, CatalogTimings{
			PreDelayMin: e.cfg.PreDelayMin,
			PreDelayMax: e.cfg.PreDelayMax,
		})
		var reset bool
		ordered, reset = SelectStrategies(all, e.session, target)
		if reset {
			slog.Info("engine: all strategies failed before, failed set reset")
		}
	} else {
		ordered = BuildBasicStrategies(stealth.RandomUserAgent())
	}
	return runPlan{sessionID: e.session.ID, strategies: ordered}
}

// run executes one extraction on a worker.
func (e *Engine) run(ctx context.Context, target string, opts ExtractOptions) (ExtractionResult, error) {
	var zero ExtractionResult
	p := e.plan(target, opts)

	if err := e.pacer.Wait(ctx); err != nil {
		return zero, fmt.Errorf("engine: pacing: %w", err)
	}

	proxy := ""
	if opts.UseProxy && e.proxies != nil {
		proxy = e.proxies.Next("")
		if proxy != "" {
			slog.Info("engine: using proxy", slog.String("proxy", proxy))
		}
	}

	var last error
	for i, s := range p.strategies {
		if err := s.Validate(); err != nil {
			slog.Error("engine: invalid strategy skipped", slog.Any("error", err))
			continue
		}
		slog.Info("engine: trying strategy",
			slog.String("strategy", s.Name),
			slog.String("url", target),
			slog.Int("attempt", i+1),
			slog.Int("total", len(p.strategies)),
		)

		start := e.now()
		res, err := e.attempt(ctx, target, s, proxy)
		elapsed := e.now().Sub(start)
		e.record(ctx, p.sessionID, s.Name, target, err, elapsed)

		if err == nil {
			e.onSuccess(ctx, target, res, opts, proxy, elapsed)
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("engine: %s: %w", s.Name, ctx.Err())
		}
		last = err
		pause := e.onFailure(s, i, err, proxy)
		if i < len(p.strategies)-1 {
			if err := e.sleep(ctx, pause); err != nil {
				return zero, err
			}
		}
	}

	e.metrics.Exhausted.Add(1)
	slog.Error("engine: all strategies failed", slog.String("url", target), slog.Int("attempts", len(p.strategies)))
	return zero, &ExhaustedError{URL: target, Attempts: len(p.strategies), Last: last}
}

// attempt runs a single strategy: pre-delay, subprocess, parse, validate.
func (e *Engine) attempt(ctx context.Context, target string, s Strategy, proxy string) (ExtractionResult, error) {
	var zero ExtractionResult
	if err := e.sleep(ctx, s.PreDelay); err != nil {
		return zero, err
	}
	e.metrics.StrategyAttempts.Add(1)

	actx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	var stdout, stderr []byte
	runErr := trackOperation(actx, "extract:"+s.Name, 30*time.Second, func(c context.Context) error {
		var err error
		stdout, stderr, err = e.runner.Run(c, Invocation{Strategy: s.Name, Argv: s.Args(target, proxy)})
		return err
	})

	if runErr != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &StrategyError{Strategy: s.Name, Kind: FailureTimeout, Err: runErr}
		}
		msg := truncateStderr(string(stderr), stderrLogLimit)
		kind := ClassifyStderr(string(stderr))
		err := runErr
		switch kind {
		case FailureBotDetected:
			err = fmt.Errorf("%w: %v", ErrBotDetected, runErr)
		case FailureRateLimited:
			err = fmt.Errorf("%w: %v", ErrUpstreamRateLimited, runErr)
		}
		return zero, &StrategyError{Strategy: s.Name, Kind: kind, Stderr: msg, Err: err}
	}

	out, err := parseToolOutput(stdout)
	if err != nil {
		return zero, &StrategyError{Strategy: s.Name, Kind: FailureOutput, Err: fmt.Errorf("%w: %v", ErrValidationFailed, err)}
	}
	lim := ResultLimits{MaxDuration: e.cfg.MaxDuration, MaxFilesize: e.cfg.MaxFilesize}
	if err := out.check(lim); err != nil {
		return zero, &StrategyError{Strategy: s.Name, Kind: FailureValidation, Err: err}
	}
	if err := e.prober.Probe(ctx, out.URL); err != nil {
		return zero, &StrategyError{Strategy: s.Name, Kind: FailureValidation, Err: err}
	}
	return out.result(s.Name, e.now()), nil
}

func (e *Engine) onSuccess(ctx context.Context, target string, res ExtractionResult, opts ExtractOptions, proxy string, elapsed time.Duration) {
	e.mu.Lock()
	e.session.DelayMultiplier = max(e.session.DelayMultiplier*0.9, 1)
	e.updatePaceLocked()
	e.mu.Unlock()

	e.metrics.Successes.Add(1)
	if proxy != "" {
		e.proxies.ReportSuccess(proxy, elapsed)
	}
	if opts.UseCache {
		e.cache.Set(ctx, target, res)
	}
	slog.Info("engine: success",
		slog.String("strategy", res.StrategyUsed),
		slog.String("title", res.Title),
		slog.String("duration", res.DurationString),
		slog.Duration("elapsed", elapsed),
	)
}

// onFailure marks the strategy failed, adapts the session and returns the
// pause before the next strategy.
func (e *Engine) onFailure(s Strategy, index int, err error, proxy string) time.Duration {
	e.metrics.StrategyFailures.Add(1)
	var se *StrategyError
	kind := FailureTool
	stderr := ""
	if errors.As(err, &se) {
		kind, stderr = se.Kind, se.Stderr
	}
	if proxy != "" && looksLikeProxyFailure(stderr) {
		e.proxies.ReportFailure(proxy)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.session
	sess.MarkFailed(s.Name)

	var pause time.Duration
	switch kind {
	case FailureBotDetected:
		e.metrics.BotDetections.Add(1)
		sess.BotDetections++
		sess.DelayMultiplier = min(sess.DelayMultiplier*2, e.cfg.MaxDelayMultiplier)
		base := uniform(e.rng, e.cfg.FailurePause, e.cfg.FailurePause*5/2)
		pause = scaleDuration(base, math.Pow(1.5, float64(index))*sess.DelayMultiplier, e.cfg.BotPauseCap)
		slog.Error("engine: bot detection",
			slog.String("strategy", s.Name),
			slog.Int("detections", sess.BotDetections),
			slog.Float64("delay_multiplier", sess.DelayMultiplier),
			slog.String("stderr", stderr),
		)
	case FailureRateLimited:
		e.metrics.UpstreamLimited.Add(1)
		sess.DelayMultiplier = min(sess.DelayMultiplier*3, e.cfg.MaxDelayMultiplier)
		base := uniform(e.rng, e.cfg.RateLimitPause, e.cfg.RateLimitPause*2)
		pause = scaleDuration(base, sess.DelayMultiplier, e.cfg.RateLimitPauseCap)
		slog.Error("engine: upstream rate limited",
			slog.String("strategy", s.Name),
			slog.Float64("delay_multiplier", sess.DelayMultiplier),
		)
	default:
		pause = e.cfg.FailurePause
		slog.Warn("engine: strategy failed",
			slog.String("strategy", s.Name),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
	e.updatePaceLocked()
	return pause
}

func (e *Engine) record(ctx context.Context, sessionID, strategy, target string, err error, elapsed time.Duration) {
	if e.journal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(FailureTool)
		var se *StrategyError
		if errors.As(err, &se) {
			outcome = string(se.Kind)
		}
	}
	a := journal.Attempt{
		SessionID: sessionID,
		Strategy:  strategy,
		URL:       target,
		Outcome:   outcome,
		Elapsed:   elapsed,
		At:        e.now(),
	}
	if jerr := e.journal.Record(context.WithoutCancel(ctx), a); jerr != nil {
		slog.Debug("journal: record failed", slog.Any("error", jerr))
	}
}

// updatePaceLocked sets the pacer to MinRequestInterval x multiplier.
func (e *Engine) updatePaceLocked() {
	interval := time.Duration(float64(e.cfg.MinRequestInterval) * e.session.DelayMultiplier)
	e.pacer.SetLimit(rate.Every(interval))
}

func (e *Engine) rotationLimits() RotationLimits {
	return RotationLimits{
		MaxRequests:   e.cfg.SessionMaxRequests,
		MaxAge:        e.cfg.SessionMaxAge,
		MaxDetections: e.cfg.SessionMaxDetections,
	}
}

// rotateLocked replaces the session. Must be called with e.mu held.
func (e *Engine) rotateLocked(reason string) string {
	old := e.session.ID
	e.session = newSession(e.rng, e.now())
	e.updatePaceLocked()
	e.metrics.SessionRotations.Add(1)
	dropped := 0
	if e.cache.Len() > 20 {
		dropped = e.cache.DropOldest(10)
	}
	slog.Info("engine: session rotated",
		slog.String("reason", reason),
		slog.String("old_session_id", old),
		slog.String("new_session_id", e.session.ID),
		slog.String("platform", e.session.Fingerprint.Platform),
		slog.Int("cache_dropped", dropped),
	)
	return e.session.ID
}

// RotateSession replaces the session identity now and returns the new id.
func (e *Engine) RotateSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotateLocked("manual")
}

// ClearFailedStrategies empties the failed set and returns its former size.
func (e *Engine) ClearFailedStrategies() int {
	e.mu.Lock()
	n := e.session.ClearFailed()
	e.mu.Unlock()
	slog.Info("engine: cleared failed strategies", slog.Int("count", n))
	return n
}

// SessionID returns the current session id.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ID
}

// Status is a monitoring snapshot of every component.
type Status struct {
	Session            SessionStatus    `json:"session"`
	MinRequestInterval time.Duration    `json:"min_request_interval"`
	Queue              queue.Stats      `json:"queue"`
	Limiter            ratelimit.Status `json:"rate_limiter"`
	Cache              CacheStats       `json:"cache"`
	Proxies            *ProxyStats      `json:"proxies,omitempty"`
	Metrics            map[string]int64 `json:"metrics"`
}

// Status returns a consistent snapshot of each component.
func (e *Engine) Status() Status {
	e.mu.Lock()
	sess := e.session.status(e.rotationLimits(), e.now())
	interval := time.Duration(float64(e.cfg.MinRequestInterval) * e.session.DelayMultiplier)
	e.mu.Unlock()

	st := Status{
		Session:            sess,
		MinRequestInterval: interval,
		Queue:              e.queue.Stats(),
		Limiter:            e.limiter.Status(e.cfg.Source),
		Cache:              e.cache.Stats(),
		Metrics:            e.metrics.Snapshot(),
	}
	if ps, ok := e.proxies.(interface{ Stats() ProxyStats }); ok {
		s := ps.Stats()
		st.Proxies = &s
	}
	return st
}

// StrategyStats aggregates the attempt journal.
func (e *Engine) StrategyStats(ctx context.Context) ([]journal.StrategyStat, error) {
	if e.journal == nil {
		return nil, ErrJournalDisabled
	}
	return e.journal.StrategyStats(ctx)
}

// FormatMetrics renders counters for the metrics endpoint.
func (e *Engine) FormatMetrics() string {
	var sb strings.Builder
	sb.WriteString(e.metrics.Format())
	qs := e.queue.Stats()
	cs := e.cache.Stats()
	fmt.Fprintf(&sb, "queue_queued %d\nqueue_in_flight %d\nqueue_processed %d\nqueue_failed %d\n",
		qs.Queued, qs.InFlight, qs.Processed, qs.Failed)
	fmt.Fprintf(&sb, "cache_entries %d\ncache_l1_hits %d\ncache_l1_misses %d\n", cs.Entries, cs.Hits, cs.Misses)
	return sb.String()
}

// Close stops the workers and releases owned backends.
func (e *Engine) Close() error {
	e.cancel()
	e.queue.Close()
	var errs []error
	if e.ownsCache {
		errs = append(errs, e.cache.Close())
	}
	if e.ownsJournal {
		errs = append(errs, e.journal.Close())
	}
	return errors.Join(errs...)
}

func looksLikeProxyFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "proxy") || strings.Contains(s, "connection")
}

// scaleDuration returns d*factor capped at limit.
func scaleDuration(d time.Duration, factor float64, limit time.Duration) time.Duration {
	scaled := float64(d) * factor
	if scaled > float64(limit) {
		return limit
	}
	return time.Duration(scaled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
