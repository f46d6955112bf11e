package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://api.firecloud.org/api/", cfg.APIURL)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 5000, cfg.BlockSize)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second}, cfg.Retry.Delays)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
	assert.False(t, cfg.Strict)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
project: proj
workspace: ws
workers: 4
page_size: 250
block_size: 2000
strict: true
progress: true
log_level: debug
log_format: json
retry:
  attempts: 3
  delays: [1s, 2s]
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://api.firecloud.org/api/", cfg.APIURL, "unset keys keep defaults")
	assert.Equal(t, "proj", cfg.Project)
	assert.Equal(t, "ws", cfg.Workspace)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 250, cfg.PageSize)
	assert.Equal(t, 2000, cfg.BlockSize)
	assert.True(t, cfg.Strict)
	assert.True(t, cfg.Progress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Retry.Delays)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  delays: [soon]\n"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "retry.delays")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TERRABULK_API_URL", "http://localhost:8080/api")
	t.Setenv("TERRABULK_PROJECT", "env-proj")
	t.Setenv("TERRABULK_WORKSPACE", "env-ws")
	t.Setenv("TERRABULK_TOKEN", "tok")
	t.Setenv("TERRABULK_WORKERS", "8")
	t.Setenv("TERRABULK_PAGE_SIZE", "10")
	t.Setenv("TERRABULK_BLOCK_SIZE", "20")
	t.Setenv("TERRABULK_STRICT", "1")
	t.Setenv("TERRABULK_PROGRESS", "true")
	t.Setenv("TERRABULK_LOG_LEVEL", "warn")
	t.Setenv("TERRABULK_RETRY_ATTEMPTS", "2")
	t.Setenv("TERRABULK_RETRY_DELAYS", "100ms, 1s")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://localhost:8080/api", cfg.APIURL)
	assert.Equal(t, "env-proj", cfg.Project)
	assert.Equal(t, "env-ws", cfg.Workspace)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 20, cfg.BlockSize)
	assert.True(t, cfg.Strict)
	assert.True(t, cfg.Progress)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Retry.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, cfg.Retry.Delays)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("TERRABULK_WORKERS", "many")
	cfg := Default()
	assert.ErrorContains(t, cfg.LoadFromEnv(), "TERRABULK_WORKERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no api url", func(c *Config) { c.APIURL = "" }, "api_url"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"zero page size", func(c *Config) { c.PageSize = 0 }, "page_size"},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }, "block_size"},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestRequireWorkspace(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.RequireWorkspace(), "project")
	cfg.Project = "p"
	assert.ErrorContains(t, cfg.RequireWorkspace(), "workspace")
	cfg.Workspace = "w"
	assert.NoError(t, cfg.RequireWorkspace())
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Project = "base"

	merged := base.Merge(Config{Workspace: "over", Workers: 3, Strict: true})

	assert.Equal(t, "base", merged.Project)
	assert.Equal(t, "over", merged.Workspace)
	assert.Equal(t, 3, merged.Workers)
	assert.True(t, merged.Strict)
	assert.Equal(t, 1000, merged.PageSize)
	assert.Equal(t, 1, base.Workers, "merge must not modify the receiver")
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry.Attempts = 3
	cfg.Retry.Delays = []time.Duration{time.Second, 2 * time.Second}

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 3*time.Second, p.TotalWait())

	p.Delays[0] = time.Hour
	assert.Equal(t, time.Second, cfg.Retry.Delays[0])
}
