package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinPort         = 1     // Minimum valid port number
	MaxPort         = 65535 // Maximum valid port number
	MaxAPITimeout   = 300   // Maximum provider API timeout in seconds
	MinTaskInterval = 60    // Minimum schedule interval in seconds
	MaxWorkers      = 256
	MaxRetriesCeil  = 100

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	LogFormatJSON  = "json"
	LogFormatText  = "text"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "CLOUDSPEND_"

	// Default values
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatJSON
	DefaultAPITimeout      = 30    // Provider API timeout in seconds
	DefaultWorkers         = 4     // Task worker pool size
	DefaultRetryDelay      = 60    // Seconds between retries of a task
	DefaultMaxRetries      = 3     // Retries per task before it fails
	DefaultBillingInterval = 86400 // 1 day in seconds
	DefaultMetricsInterval = 3600  // 1 hour in seconds
)

// Store selects the persistence backend
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Tasks configures the worker pool and the schedule
type Tasks struct {
	Workers    int  `yaml:"workers"`
	RetryDelay int  `yaml:"retry_delay"` // seconds
	MaxRetries *int `yaml:"max_retries"` // Pointer to distinguish between 0 and unset

	// Schedule intervals in seconds; 0 disables the job
	BillingInterval *int `yaml:"billing_interval"`
	MetricsInterval *int `yaml:"metrics_interval"`
}

// Account is an account seeded into the store on startup
type Account struct {
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Data     map[string]string `yaml:"data"`
}

// Config represents the application configuration
type Config struct {
	LogLevel   string    `yaml:"log_level"`
	LogFormat  string    `yaml:"log_format"`
	HTTPPort   int       `yaml:"http_port"`
	APITimeout int       `yaml:"api_timeout"` // Provider API timeout in seconds
	Store      Store     `yaml:"store"`
	Tasks      Tasks     `yaml:"tasks"`
	Accounts   []Account `yaml:"accounts"`
}

// Load loads configuration from a YAML file and applies environment variable overrides.
// An empty path skips the file and builds the configuration from defaults and
// the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Secrets in account data may reference the environment as ${VAR}
	for i := range cfg.Accounts {
		for k, v := range cfg.Accounts[i].Data {
			cfg.Accounts[i].Data[k] = os.ExpandEnv(v)
		}
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func intPtr(i int) *int { return &i }

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}
	if cfg.Tasks.Workers == 0 {
		cfg.Tasks.Workers = DefaultWorkers
	}
	if cfg.Tasks.RetryDelay == 0 {
		cfg.Tasks.RetryDelay = DefaultRetryDelay
	}
	if cfg.Tasks.MaxRetries == nil {
		cfg.Tasks.MaxRetries = intPtr(DefaultMaxRetries)
	}
	if cfg.Tasks.BillingInterval == nil {
		cfg.Tasks.BillingInterval = intPtr(DefaultBillingInterval)
	}
	if cfg.Tasks.MetricsInterval == nil {
		cfg.Tasks.MetricsInterval = intPtr(DefaultMetricsInterval)
	}
}

func envInt(name string, set func(int)) error {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: must be an integer, got %q", EnvPrefix, name, val)
	}
	set(i)
	return nil
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		cfg.LogFormat = val
	}
	if val := os.Getenv(EnvPrefix + "STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}
	if val := os.Getenv(EnvPrefix + "STORE_DSN"); val != "" {
		cfg.Store.DSN = val
	}

	overrides := []struct {
		name string
		set  func(int)
	}{
		{"HTTP_PORT", func(i int) { cfg.HTTPPort = i }},
		{"API_TIMEOUT", func(i int) { cfg.APITimeout = i }},
		{"TASKS_WORKERS", func(i int) { cfg.Tasks.Workers = i }},
		{"TASKS_RETRY_DELAY", func(i int) { cfg.Tasks.RetryDelay = i }},
		{"TASKS_MAX_RETRIES", func(i int) { cfg.Tasks.MaxRetries = intPtr(i) }},
		{"TASKS_BILLING_INTERVAL", func(i int) { cfg.Tasks.BillingInterval = intPtr(i) }},
		{"TASKS_METRICS_INTERVAL", func(i int) { cfg.Tasks.MetricsInterval = intPtr(i) }},
	}
	for _, o := range overrides {
		if err := envInt(o.name, o.set); err != nil {
			return err
		}
	}
	return nil
}

func validateInterval(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s cannot be negative, got %d", name, v)
	}
	if v > 0 && v < MinTaskInterval {
		return fmt.Errorf("%s must be 0 (disabled) or at least %d seconds", name, MinTaskInterval)
	}
	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	if cfg.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive, got %d", cfg.APITimeout)
	}
	if cfg.APITimeout > MaxAPITimeout {
		return fmt.Errorf("api_timeout should not exceed %d seconds, got %d", MaxAPITimeout, cfg.APITimeout)
	}

	switch strings.ToLower(cfg.LogFormat) {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("log_format must be %q or %q, got %q", LogFormatJSON, LogFormatText, cfg.LogFormat)
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}

	if cfg.Tasks.Workers < 1 || cfg.Tasks.Workers > MaxWorkers {
		return fmt.Errorf("tasks.workers must be between 1 and %d, got %d", MaxWorkers, cfg.Tasks.Workers)
	}
	if cfg.Tasks.RetryDelay <= 0 {
		return fmt.Errorf("tasks.retry_delay must be positive, got %d", cfg.Tasks.RetryDelay)
	}
	if r := *cfg.Tasks.MaxRetries; r < 0 || r > MaxRetriesCeil {
		return fmt.Errorf("tasks.max_retries must be between 0 and %d, got %d", MaxRetriesCeil, r)
	}
	if err := validateInterval("tasks.billing_interval", *cfg.Tasks.BillingInterval); err != nil {
		return err
	}
	if err := validateInterval("tasks.metrics_interval", *cfg.Tasks.MetricsInterval); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Accounts {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("account at index %d has empty name", i)
		}
		if a.Provider == "" {
			return fmt.Errorf("account %q has no provider", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("account %q is declared twice", a.Name)
		}
		seen[a.Name] = true
	}

	return nil
}

// APITimeoutDuration returns the provider API timeout
func (c *Config) APITimeoutDuration() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}

// RetryDelayDuration returns the wait before a retryable task runs again
func (t Tasks) RetryDelayDuration() time.Duration {
	return time.Duration(t.RetryDelay) * time.Second
}

// BillingEvery returns the billing schedule interval, 0 when disabled
func (t Tasks) BillingEvery() time.Duration {
	return time.Duration(*t.BillingInterval) * time.Second
}

// MetricsEvery returns the instance-count schedule interval, 0 when disabled
func (t Tasks) MetricsEvery() time.Duration {
	return time.Duration(*t.MetricsInterval) * time.Second
}
