package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/anatolykoptev/go_ytaudio/internal/engine/ratelimit"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	Source   string `toml:"source"`    // rate limiter source name
	ToolPath string `toml:"tool_path"` // yt-dlp binary

	Limits        ratelimit.Limits `toml:"limits"`
	MaxWorkers    int              `toml:"max_workers"`
	JobTimeout    time.Duration    `toml:"job_timeout"`
	ResultTimeout time.Duration    `toml:"result_timeout"`
	AdmissionWait time.Duration    `toml:"admission_wait"` // 0 = deny immediately

	CacheTTL        time.Duration `toml:"cache_ttl"`
	CacheMaxEntries int           `toml:"cache_max_entries"`
	RedisURL        string        `toml:"redis_url"` // empty disables L2

	MinRequestInterval time.Duration `toml:"min_request_interval"`
	MaxDelayMultiplier float64       `toml:"max_delay_multiplier"`

	SessionMaxRequests   int           `toml:"session_max_requests"`
	SessionMaxAge        time.Duration `toml:"session_max_age"`
	SessionMaxDetections int           `toml:"session_max_detections"`

	MaxDuration time.Duration `toml:"max_duration"`
	MaxFilesize int64         `toml:"max_filesize"`

	ProbeTimeout time.Duration `toml:"probe_timeout"`
	ProbeRetries int           `toml:"probe_retries"`

	PreDelayMin       time.Duration `toml:"pre_delay_min"`
	PreDelayMax       time.Duration `toml:"pre_delay_max"`
	BotPauseCap       time.Duration `toml:"bot_pause_cap"`
	RateLimitPause    time.Duration `toml:"rate_limit_pause"`
	RateLimitPauseCap time.Duration `toml:"rate_limit_pause_cap"`
	FailurePause      time.Duration `toml:"failure_pause"`

	JournalPath string `toml:"journal_path"` // empty disables the attempt journal
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Source:   "youtube",
		ToolPath: "yt-dlp",

		Limits:        ratelimit.DefaultLimits,
		MaxWorkers:    3,
		JobTimeout:    300 * time.Second,
		ResultTimeout: 320 * time.Second,

		CacheTTL:        time.Hour,
		CacheMaxEntries: 100,

		MinRequestInterval: 3 * time.Second,
		MaxDelayMultiplier: 8,

		SessionMaxRequests:   50,
		SessionMaxAge:        time.Hour,
		SessionMaxDetections: 3,

		MaxDuration: time.Hour,
		MaxFilesize: 100 << 20,

		ProbeTimeout: 10 * time.Second,
		ProbeRetries: 2,

		PreDelayMin:       time.Second,
		PreDelayMax:       3 * time.Second,
		BotPauseCap:       15 * time.Second,
		RateLimitPause:    10 * time.Second,
		RateLimitPauseCap: 30 * time.Second,
		FailurePause:      2 * time.Second,
	}
}

// LoadConfigFile overlays a TOML file onto cfg. A missing file is not an error.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg.Validate()
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	var errs []error
	if c.Source == "" {
		errs = append(errs, errors.New("source cannot be empty"))
	}
	if c.ToolPath == "" {
		errs = append(errs, errors.New("tool_path cannot be empty"))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max_workers must be >= 1, got %d", c.MaxWorkers))
	}
	if c.Limits.Concurrent < 1 || c.Limits.PerMinute < 1 || c.Limits.PerHour < 1 {
		errs = append(errs, fmt.Errorf("limits must be positive, got %+v", c.Limits))
	}
	if c.JobTimeout <= 0 || c.ResultTimeout <= 0 {
		errs = append(errs, errors.New("job_timeout and result_timeout must be positive"))
	}
	if c.CacheMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("cache_max_entries must be >= 1, got %d", c.CacheMaxEntries))
	}
	if c.MaxDelayMultiplier < 1 {
		errs = append(errs, fmt.Errorf("max_delay_multiplier must be >= 1, got %g", c.MaxDelayMultiplier))
	}
	if c.PreDelayMax < c.PreDelayMin {
		errs = append(errs, errors.New("pre_delay_max must not be below pre_delay_min"))
	}
	if c.MaxDuration <= 0 || c.MaxFilesize <= 0 {
		errs = append(errs, errors.New("max_duration and max_filesize must be positive"))
	}
	return errors.Join(errs...)
}
