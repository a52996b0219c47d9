package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for the update client, loaded from
// YAML and overridable by a handful of recognized environment variables.
type Config struct {
	ServerURL            string `yaml:"server_url"`
	ServerCertificate    string `yaml:"server_certificate"`
	ClientCertificate    string `yaml:"client_certificate"`
	ClientCertificateKey string `yaml:"client_certificate_key"`
	SkipVerify           bool   `yaml:"skip_verify"`

	HTTPProxy        string `yaml:"http_proxy"`
	HTTPSProxy       string `yaml:"https_proxy"`
	NoProxy          string `yaml:"no_proxy"`
	DisableKeepAlive bool   `yaml:"disable_keep_alive"`

	ArtifactVerifyKeys []string `yaml:"artifact_verify_keys"`

	UpdatePollIntervalSeconds      int `yaml:"update_poll_interval_seconds"`
	InventoryPollIntervalSeconds   int `yaml:"inventory_poll_interval_seconds"`
	RetryPollIntervalSeconds       int `yaml:"retry_poll_interval_seconds"`
	RetryPollCount                 int `yaml:"retry_poll_count"`
	StateScriptTimeoutSeconds      int `yaml:"state_script_timeout_seconds"`
	StateScriptRetryIntervalSeconds int `yaml:"state_script_retry_interval_seconds"`
	StateScriptRetryTimeoutSeconds  int `yaml:"state_script_retry_timeout_seconds"`
	ModuleTimeoutSeconds            int `yaml:"module_timeout_seconds"`

	// InventoryOnIdlePoll makes the daemon log that an inventory push is
	// now due after a deployment poll that finds nothing to do, on the
	// first such poll of the run; the daemon sends no inventory itself.
	// See SPEC_FULL.md §3.
	InventoryOnIdlePoll bool `yaml:"inventory_on_idle_poll"`

	// PauseBeforeInstalling, PauseBeforeCommitting and PauseBeforeRebooting
	// hold the deployment machine at the corresponding point until an
	// operator resumes it. See SPEC_FULL.md §3.
	PauseBeforeInstalling bool `yaml:"pause_before_installing"`
	PauseBeforeCommitting bool `yaml:"pause_before_committing"`
	PauseBeforeRebooting  bool `yaml:"pause_before_rebooting"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		UpdatePollIntervalSeconds:       1800,
		InventoryPollIntervalSeconds:    28800,
		RetryPollIntervalSeconds:        300,
		RetryPollCount:                  10,
		StateScriptTimeoutSeconds:       3600,
		StateScriptRetryIntervalSeconds: 60,
		StateScriptRetryTimeoutSeconds:  600,
		ModuleTimeoutSeconds:            14400,
		InventoryOnIdlePoll:             true,
	}
}

// Load reads and parses a YAML config file, starting from Default() so that
// any field the file omits keeps its documented default, then applies
// environment variable overrides for the proxy settings.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.HTTPProxy = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.HTTPSProxy = v
	}
	if v := os.Getenv("NO_PROXY"); v != "" {
		cfg.NoProxy = v
	}
}

// UpdatePollInterval returns the configured update poll interval as a
// time.Duration.
func (c Config) UpdatePollInterval() time.Duration {
	return time.Duration(c.UpdatePollIntervalSeconds) * time.Second
}

// InventoryPollInterval returns the configured inventory poll interval.
func (c Config) InventoryPollInterval() time.Duration {
	return time.Duration(c.InventoryPollIntervalSeconds) * time.Second
}

// RetryPollInterval returns the ceiling backoff interval for polling.
func (c Config) RetryPollInterval() time.Duration {
	return time.Duration(c.RetryPollIntervalSeconds) * time.Second
}

// StateScriptTimeout returns the configured state-script timeout.
func (c Config) StateScriptTimeout() time.Duration {
	return time.Duration(c.StateScriptTimeoutSeconds) * time.Second
}

// ModuleTimeout returns the configured per-invocation update-module timeout.
func (c Config) ModuleTimeout() time.Duration {
	return time.Duration(c.ModuleTimeoutSeconds) * time.Second
}
