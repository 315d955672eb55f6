package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains shared LLM connection settings used by all grading stages.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Grading contains tunables for the synchronous grading stages.
type Grading struct {
	// MaxMoments caps the number of key moments promoted per session.
	MaxMoments int `toml:"max_moments"`
	// MomentTimeoutSeconds bounds the key-moment annotation LLM call.
	MomentTimeoutSeconds int `toml:"moment_timeout_seconds"`
}

// DeepGrade contains settings for the holistic deep-grade stage.
type DeepGrade struct {
	// Model overrides [llm].model for the deep grade when set.
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxTokens      int    `toml:"max_tokens"`
}

// Workers contains configuration for the line-rating worker pool.
type Workers struct {
	BatchSize           int `toml:"batch_size"`
	Concurrency         int `toml:"concurrency"`
	RatePerSecond       int `toml:"rate_per_second"`
	BatchRetryLimit     int `toml:"batch_retry_limit"`
	BatchBackoffSeconds int `toml:"batch_backoff_seconds"`
	JobAttemptLimit     int `toml:"job_attempt_limit"`
	JobBackoffSeconds   int `toml:"job_backoff_seconds"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
}

// Cache contains configuration for the phrase cache.
type Cache struct {
	Enabled bool `toml:"enabled"`
	// Path is the JSON file backing the cache. Default: <data_dir>/phrase_cache.json
	Path string `toml:"path"`
	// TTLHours marks entries stale after this long; 0 disables expiry.
	TTLHours int `toml:"ttl_hours"`
	// SweepSchedule is a cron expression for the staleness sweep.
	SweepSchedule string `toml:"sweep_schedule"`
}

// Workflow contains daemon polling intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completion     bool   `toml:"completion"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the grading service.
//
// Sections by subsystem:
//   - Paths: data directory, log directory, API bind address and token
//   - LLM: shared connection settings for every stage that calls the model
//   - Grading: key-moment extraction tunables
//   - DeepGrade: holistic grade model, timeout, and token budget
//   - Workers: line-rating batch size, pool concurrency, rate limit, retries
//   - Cache: phrase cache location and staleness policy
//   - Workflow: daemon polling intervals
//   - Notifications: ntfy push settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Grading       Grading       `toml:"grading"`
	DeepGrade     DeepGrade     `toml:"deep_grade"`
	Workers       Workers       `toml:"workers"`
	Cache         Cache         `toml:"cache"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dooriq/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dooriq.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the session database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "sessions.db")
}

// PhraseCachePath returns the configured (or derived) phrase cache file path.
func (c *Config) PhraseCachePath() string {
	if strings.TrimSpace(c.Cache.Path) != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Paths.DataDir, "phrase_cache.json")
}

// DeepGradeLLM returns the LLM settings for the deep-grade stage, falling
// back to [llm] connection details when not explicitly configured.
func (c *Config) DeepGradeLLM() LLM {
	cfg := c.LLM
	if model := strings.TrimSpace(c.DeepGrade.Model); model != "" {
		cfg.Model = model
	}
	if c.DeepGrade.TimeoutSeconds > 0 {
		cfg.TimeoutSeconds = c.DeepGrade.TimeoutSeconds
	}
	return cfg
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
