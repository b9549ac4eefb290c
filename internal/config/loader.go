package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".proxyscan.yml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the YAML shape of the configuration file. Interval and
// timeout fields are plain integers (seconds or hours) rather than
// duration strings so the file stays editable without knowing Go's
// duration syntax. Zero values mean "keep the default".
type File struct {
	DataDir                  string   `yaml:"data_dir"`
	MaxProxiesPerFetch       int      `yaml:"max_proxies_per_fetch"`
	ValidationTimeoutSeconds int      `yaml:"validation_timeout_seconds"`
	MaxConcurrentValidations int      `yaml:"max_concurrent_validations"`
	MaxFailCount             int      `yaml:"max_fail_count"`
	TempInvalidRetryHours    int      `yaml:"temp_invalid_retry_hours"`
	RetryInvalidProxies      *bool    `yaml:"retry_invalid_proxies"`
	ValidationBatchSize      int      `yaml:"validation_batch_size"`
	CleanupMaxAgeDays        int      `yaml:"cleanup_max_age_days"`
	FetchIntervalHours       int      `yaml:"fetch_interval_hours"`
	ValidateIntervalHours    int      `yaml:"validate_interval_hours"`
	CleanupIntervalHours     int      `yaml:"cleanup_interval_hours"`
	ReportIntervalHours      int      `yaml:"report_interval_hours"`
	NotifyOnLowValid         *bool    `yaml:"notify_on_low_valid"`
	MinValidProxies          int      `yaml:"min_valid_proxies"`
	NotifyOnErrors           *bool    `yaml:"notify_on_errors"`
	MaxRetries               int      `yaml:"max_retries"`
	RotationInterval         int      `yaml:"rotation_interval"`
	RotationCooldownSeconds  int      `yaml:"rotation_cooldown_seconds"`
	MaxConsecutiveFailures   int      `yaml:"max_consecutive_failures"`
	RotationFreshScore       *float64 `yaml:"rotation_fresh_score"`
	UserAgent                string   `yaml:"user_agent"`
	HTTPProbeURL             string   `yaml:"http_probe_url"`
	HTTPSProbeURL            string   `yaml:"https_probe_url"`
	PerformanceURL           string   `yaml:"performance_url"`
	IPEchoEndpoints          []string `yaml:"ip_echo_endpoints"`
	Sources                  []Source `yaml:"sources"`
}

// LoadConfigFile loads a configuration file and returns its parsed form.
// If the file does not exist, it returns ErrConfigNotFound.
// Callers should handle this error based on whether the config file
// path was explicitly specified by the user.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ApplyTo overlays the non-zero file values onto cfg.
// Booleans use pointers so "explicitly false" is distinguishable from
// "not set".
func (f *File) ApplyTo(cfg *Config) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.MaxProxiesPerFetch > 0 {
		cfg.MaxProxiesPerFetch = f.MaxProxiesPerFetch
	}
	if f.ValidationTimeoutSeconds > 0 {
		cfg.ValidationTimeout = time.Duration(f.ValidationTimeoutSeconds) * time.Second
	}
	if f.MaxConcurrentValidations > 0 {
		cfg.MaxConcurrentValidations = f.MaxConcurrentValidations
	}
	if f.MaxFailCount > 0 {
		cfg.MaxFailCount = f.MaxFailCount
	}
	if f.TempInvalidRetryHours > 0 {
		cfg.TempInvalidRetry = time.Duration(f.TempInvalidRetryHours) * time.Hour
	}
	if f.RetryInvalidProxies != nil {
		cfg.RetryInvalidProxies = *f.RetryInvalidProxies
	}
	if f.ValidationBatchSize > 0 {
		cfg.ValidationBatchSize = f.ValidationBatchSize
	}
	if f.CleanupMaxAgeDays > 0 {
		cfg.CleanupMaxAgeDays = f.CleanupMaxAgeDays
	}
	if f.FetchIntervalHours > 0 {
		cfg.FetchInterval = time.Duration(f.FetchIntervalHours) * time.Hour
	}
	if f.ValidateIntervalHours > 0 {
		cfg.ValidateInterval = time.Duration(f.ValidateIntervalHours) * time.Hour
	}
	if f.CleanupIntervalHours > 0 {
		cfg.CleanupInterval = time.Duration(f.CleanupIntervalHours) * time.Hour
	}
	if f.ReportIntervalHours > 0 {
		cfg.ReportInterval = time.Duration(f.ReportIntervalHours) * time.Hour
	}
	if f.NotifyOnLowValid != nil {
		cfg.NotifyOnLowValid = *f.NotifyOnLowValid
	}
	if f.MinValidProxies > 0 {
		cfg.MinValidProxies = f.MinValidProxies
	}
	if f.NotifyOnErrors != nil {
		cfg.NotifyOnErrors = *f.NotifyOnErrors
	}
	if f.MaxRetries > 0 {
		cfg.MaxRetries = f.MaxRetries
	}
	if f.RotationInterval > 0 {
		cfg.RotationInterval = f.RotationInterval
	}
	if f.RotationCooldownSeconds > 0 {
		cfg.RotationCooldown = time.Duration(f.RotationCooldownSeconds) * time.Second
	}
	if f.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = f.MaxConsecutiveFailures
	}
	if f.RotationFreshScore != nil {
		cfg.RotationFreshScore = *f.RotationFreshScore
	}
	if f.UserAgent != "" {
		cfg.UserAgent = f.UserAgent
	}
	if f.HTTPProbeURL != "" {
		cfg.HTTPProbeURL = f.HTTPProbeURL
	}
	if f.HTTPSProbeURL != "" {
		cfg.HTTPSProbeURL = f.HTTPSProbeURL
	}
	if f.PerformanceURL != "" {
		cfg.PerformanceURL = f.PerformanceURL
	}
	if len(f.IPEchoEndpoints) > 0 {
		cfg.IPEchoEndpoints = f.IPEchoEndpoints
	}
	if len(f.Sources) > 0 {
		cfg.Sources = f.Sources
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .proxyscan.yml in the current directory
// 3. Look for .proxyscan.yml in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	// If explicit path is provided, use it
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	// Check current directory
	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	// Check home directory
	home, err := os.UserHomeDir()
	if err == nil {
		homeConfig := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}

	return ""
}
