package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if strings.TrimSpace(c.Cache.Path) != "" {
		if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
			return err
		}
	}

	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv("DOORIQ_LLM_API_KEY"))
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind must not be empty")
	}
	if c.Grading.MaxMoments <= 0 {
		problems = append(problems, "grading.max_moments must be positive")
	}
	if c.Workers.BatchSize <= 0 {
		problems = append(problems, "workers.batch_size must be positive")
	}
	if c.Workers.Concurrency <= 0 {
		problems = append(problems, "workers.concurrency must be positive")
	}
	if c.Workers.RatePerSecond <= 0 {
		problems = append(problems, "workers.rate_per_second must be positive")
	}
	if c.Workers.JobAttemptLimit <= 0 {
		problems = append(problems, "workers.job_attempt_limit must be positive")
	}
	if c.Workers.HeartbeatTimeout > 0 && c.Workers.HeartbeatInterval >= c.Workers.HeartbeatTimeout {
		problems = append(problems, "workers.heartbeat_interval must be shorter than workers.heartbeat_timeout")
	}
	if c.Cache.TTLHours < 0 {
		problems = append(problems, "cache.ttl_hours must not be negative")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		problems = append(problems, "workflow.queue_poll_interval must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
