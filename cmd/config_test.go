package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ytaudio.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers = 5\ncache_ttl = \"10m\"\n"), 0o600))

	old := flagConfig
	flagConfig = path
	t.Cleanup(func() { flagConfig = old })
	t.Setenv("MAX_WORKERS", "7")
	t.Setenv("YTDLP_PATH", "/opt/yt-dlp")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxWorkers, "env beats file")
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL, "file beats default")
	assert.Equal(t, "/opt/yt-dlp", cfg.ToolPath)
	assert.Equal(t, 3, cfg.Limits.Concurrent, "default kept")
}

func TestLoadConfigRejectsInvalidEnv(t *testing.T) {
	old := flagConfig
	flagConfig = filepath.Join(t.TempDir(), "absent.toml")
	t.Cleanup(func() { flagConfig = old })
	t.Setenv("MAX_WORKERS", "0")

	_, err := loadConfig()
	assert.ErrorContains(t, err, "max_workers")
}
