package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/subscription"
)

// Config holds all application configuration
type Config struct {
	// Backend endpoints
	StatusURL string `yaml:"status_url"`
	APIURL    string `yaml:"api_url"`
	APIToken  string `yaml:"api_token"`

	// Poller settings
	PollInterval    time.Duration `yaml:"poll_interval"`
	APIReadyTimeout int           `yaml:"api_ready_timeout"`

	// Subscription retry settings
	MaxRetries           int           `yaml:"max_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`

	// Output
	MetricsAddr string `yaml:"metrics_addr"`
	ResultsDir  string `yaml:"results_dir"`

	// Tasks is a static active set; when set the API is not polled.
	Tasks []models.TaskID `yaml:"tasks"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	defaults := subscription.DefaultConfig()
	return &Config{
		StatusURL:            "ws://localhost:8080/ws",
		APIURL:               "http://localhost:8080",
		PollInterval:         5 * time.Second,
		APIReadyTimeout:      30,
		MaxRetries:           defaults.MaxRetries,
		RetryDelay:           defaults.BaseRetryDelay,
		MaxReconnectAttempts: defaults.MaxReconnectAttempts,
		ReconnectDelay:       defaults.ReconnectDelay,
		ResultsDir:           "results",
	}
}

// LoadFromFile overlays the YAML file at path. Keys missing from the file
// keep their current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	if v := os.Getenv("TASKWATCH_STATUS_URL"); v != "" {
		c.StatusURL = v
	}

	if v := os.Getenv("TASKWATCH_API_URL"); v != "" {
		c.APIURL = v
	}

	if v := os.Getenv("TASKWATCH_API_TOKEN"); v != "" {
		c.APIToken = v
	}

	if v := os.Getenv("TASKWATCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}

	if v := os.Getenv("TASKWATCH_API_TIMEOUT"); v != "" {
		if t, err := strconv.Atoi(v); err == nil {
			c.APIReadyTimeout = t
		}
	}

	if v := os.Getenv("TASKWATCH_MAX_RETRIES"); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = r
		}
	}

	// Delays are milliseconds.
	if v := os.Getenv("TASKWATCH_RETRY_DELAY"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.RetryDelay = time.Duration(d) * time.Millisecond
		}
	}

	if v := os.Getenv("TASKWATCH_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			c.MaxReconnectAttempts = r
		}
	}

	if v := os.Getenv("TASKWATCH_RECONNECT_DELAY"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.ReconnectDelay = time.Duration(d) * time.Millisecond
		}
	}

	if v := os.Getenv("TASKWATCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}

	if v := os.Getenv("TASKWATCH_RESULTS_DIR"); v != "" {
		c.ResultsDir = v
	}

	if v := os.Getenv("TASKWATCH_TASKS"); v != "" {
		c.Tasks = ParseTaskList(v)
	}
}

// ParseTaskList splits a comma separated list of task ids.
func ParseTaskList(s string) []models.TaskID {
	var ids []models.TaskID
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, models.TaskID(id))
		}
	}
	return ids
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.StatusURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("status URL must be a ws:// or wss:// URL, got: %q", c.StatusURL)
	}

	if len(c.Tasks) == 0 {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("API URL must be an http:// or https:// URL, got: %q", c.APIURL)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %s", c.PollInterval)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}

	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive, got: %s", c.RetryDelay)
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be non-negative, got: %d", c.MaxReconnectAttempts)
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got: %s", c.ReconnectDelay)
	}

	if c.ResultsDir == "" {
		return fmt.Errorf("results directory cannot be empty")
	}

	return nil
}

// SubscriptionConfig returns the retry and reconnect policy for the
// subscription manager.
func (c *Config) SubscriptionConfig() subscription.Config {
	return subscription.Config{
		MaxRetries:           c.MaxRetries,
		BaseRetryDelay:       c.RetryDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay,
	}
}
