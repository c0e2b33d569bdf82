package cmd

import (
	"log/slog"

	"github.com/anatolykoptev/go-kit/env"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
)

// loadConfig merges defaults < TOML file < environment.
func loadConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	path := flagConfig
	if path == "" {
		path = env.Str("YTAUDIO_CONFIG", "ytaudio.toml")
	}
	if err := engine.LoadConfigFile(path, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(c *engine.Config) {
	c.ToolPath = env.Str("YTDLP_PATH", c.ToolPath)
	c.MaxWorkers = env.Int("MAX_WORKERS", c.MaxWorkers)
	c.Limits.PerMinute = env.Int("RATE_LIMIT_PER_MINUTE", c.Limits.PerMinute)
	c.Limits.PerHour = env.Int("RATE_LIMIT_PER_HOUR", c.Limits.PerHour)
	c.Limits.Concurrent = env.Int("RATE_LIMIT_CONCURRENT", c.Limits.Concurrent)
	c.JobTimeout = env.Duration("JOB_TIMEOUT", c.JobTimeout)
	c.ResultTimeout = env.Duration("RESULT_TIMEOUT", c.ResultTimeout)
	c.AdmissionWait = env.Duration("ADMISSION_WAIT", c.AdmissionWait)
	c.CacheTTL = env.Duration("CACHE_TTL", c.CacheTTL)
	c.CacheMaxEntries = env.Int("CACHE_MAX_ENTRIES", c.CacheMaxEntries)
	c.RedisURL = env.Str("REDIS_URL", c.RedisURL)
	c.MinRequestInterval = env.Duration("MIN_REQUEST_INTERVAL", c.MinRequestInterval)
	c.MaxDelayMultiplier = env.Float("MAX_DELAY_MULTIPLIER", c.MaxDelayMultiplier)
	c.SessionMaxRequests = env.Int("SESSION_MAX_REQUESTS", c.SessionMaxRequests)
	c.SessionMaxAge = env.Duration("SESSION_MAX_AGE", c.SessionMaxAge)
	c.SessionMaxDetections = env.Int("SESSION_MAX_DETECTIONS", c.SessionMaxDetections)
	c.ProbeTimeout = env.Duration("PROBE_TIMEOUT", c.ProbeTimeout)
	c.ProbeRetries = env.Int("PROBE_RETRIES", c.ProbeRetries)
	c.JournalPath = env.Str("JOURNAL_PATH", c.JournalPath)
}

// newEngine builds the engine with an optional proxy pool from PROXY_LIST
// ("url" or "url|location", comma separated).
func newEngine(cfg engine.Config) (*engine.Engine, error) {
	var opts []engine.Option
	if proxies := engine.ParseProxyList(env.List("PROXY_LIST", "")); len(proxies) > 0 {
		opts = append(opts, engine.WithProxyProvider(engine.NewRotatingPool(proxies)))
		slog.Info("proxy pool initialized", slog.Int("proxies", len(proxies)))
	}
	return engine.New(cfg, opts...)
}
