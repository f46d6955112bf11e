package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/broadinstitute/terra-tools/internal/retry"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config defines configuration for the terrabulk CLI.
type Config struct {
	APIURL    string      `yaml:"api_url"`
	Project   string      `yaml:"project"`
	Workspace string      `yaml:"workspace"`
	Token     string      `yaml:"token"`
	Workers   int         `yaml:"workers"`
	PageSize  int         `yaml:"page_size"`
	BlockSize int         `yaml:"block_size"`
	Strict    bool        `yaml:"strict"`
	Progress  bool        `yaml:"progress"`
	LogLevel  string      `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`
	Retry     RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int             `yaml:"attempts"`
	Delays   []time.Duration `yaml:"delays"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	chain := retry.FixedChain()
	return Config{
		APIURL:    "https://api.firecloud.org/api/",
		Workers:   1,
		PageSize:  1000,
		BlockSize: 5000,
		LogLevel:  "info",
		LogFormat: LogFormatConsole,
		Retry: RetryConfig{
			Attempts: chain.MaxAttempts,
			Delays:   chain.Delays,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	APIURL    string          `yaml:"api_url"`
	Project   string          `yaml:"project"`
	Workspace string          `yaml:"workspace"`
	Token     string          `yaml:"token"`
	Workers   int             `yaml:"workers"`
	PageSize  int             `yaml:"page_size"`
	BlockSize int             `yaml:"block_size"`
	Strict    bool            `yaml:"strict"`
	Progress  bool            `yaml:"progress"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Retry     yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Delays   []string `yaml:"delays"`
}

// LoadFromFile loads configuration from a YAML file. Unset keys keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}

	delays, err := parseDelays(yc.Retry.Delays)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse retry.delays")
	}

	return Default().Merge(Config{
		APIURL:    yc.APIURL,
		Project:   yc.Project,
		Workspace: yc.Workspace,
		Token:     yc.Token,
		Workers:   yc.Workers,
		PageSize:  yc.PageSize,
		BlockSize: yc.BlockSize,
		Strict:    yc.Strict,
		Progress:  yc.Progress,
		LogLevel:  yc.LogLevel,
		LogFormat: yc.LogFormat,
		Retry: RetryConfig{
			Attempts: yc.Retry.Attempts,
			Delays:   delays,
		},
	}), nil
}

func parseDelays(values []string) ([]time.Duration, error) {
	if len(values) == 0 {
		return nil, nil
	}
	delays := make([]time.Duration, 0, len(values))
	for _, v := range values {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, errors.Errorf("negative delay %q", v)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TERRABULK_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("TERRABULK_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("TERRABULK_PROJECT"); v != "" {
		c.Project = v
	}
	if v := os.Getenv("TERRABULK_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("TERRABULK_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("TERRABULK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse TERRABULK_WORKERS")
		}
		c.Workers = n
	}
	if v := os.Getenv("TERRABULK_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse TERRABULK_PAGE_SIZE")
		}
		c.PageSize = n
	}
	if v := os.Getenv("TERRABULK_BLOCK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse TERRABULK_BLOCK_SIZE")
		}
		c.BlockSize = n
	}
	if v := os.Getenv("TERRABULK_STRICT"); v != "" {
		c.Strict = v == "true" || v == "1"
	}
	if v := os.Getenv("TERRABULK_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("TERRABULK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TERRABULK_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("TERRABULK_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse TERRABULK_RETRY_ATTEMPTS")
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("TERRABULK_RETRY_DELAYS"); v != "" {
		delays, err := parseDelays(strings.Split(v, ","))
		if err != nil {
			return errors.Wrap(err, "parse TERRABULK_RETRY_DELAYS")
		}
		c.Retry.Delays = delays
	}

	return nil
}

// Validate validates the configuration. Workspace coordinates are checked
// separately by RequireWorkspace since not every command needs them.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: api_url is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.PageSize <= 0 {
		return errors.New("config: page_size must be positive")
	}
	if c.BlockSize <= 0 {
		return errors.New("config: block_size must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return errors.Errorf("config: invalid log_format %q", c.LogFormat)
	}
	return nil
}

// RequireWorkspace checks that the workspace coordinates are set.
func (c *Config) RequireWorkspace() error {
	if c.Project == "" {
		return errors.New("config: project is required")
	}
	if c.Workspace == "" {
		return errors.New("config: workspace is required")
	}
	return nil
}

// RetryPolicy converts the retry settings into a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.Attempts,
		Delays:      append([]time.Duration(nil), c.Retry.Delays...),
	}
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.APIURL != "" {
		c.APIURL = override.APIURL
	}
	if override.Project != "" {
		c.Project = override.Project
	}
	if override.Workspace != "" {
		c.Workspace = override.Workspace
	}
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.PageSize != 0 {
		c.PageSize = override.PageSize
	}
	if override.BlockSize != 0 {
		c.BlockSize = override.BlockSize
	}
	if override.Strict {
		c.Strict = override.Strict
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if len(override.Retry.Delays) != 0 {
		c.Retry.Delays = override.Retry.Delays
	}
	return c
}
