package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	AWS          AWSConfig          `yaml:"aws"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Queue        QueueConfig        `yaml:"queue"`
	Remote       RemoteConfig       `yaml:"remote"`
	AutoScaler   AutoScalerConfig   `yaml:"autoscaler"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // bearer token for the API, empty disables auth
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AWSConfig AWS credentials and region. Empty keys fall back to the default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	RetentionDays int    `yaml:"retention_days"` // activation history retention
}

// Enabled reports whether activation history should be persisted
func (c MySQLConfig) Enabled() bool {
	return c.Host != ""
}

// QueueConfig backlog queue configuration
type QueueConfig struct {
	Provider string `yaml:"provider"` // sqs, redis, asynq
	URL      string `yaml:"url"`      // SQS queue URL
	Key      string `yaml:"key"`      // Redis list key
	Name     string `yaml:"name"`     // asynq queue name
}

// RemoteConfig remote launch configuration
type RemoteConfig struct {
	User           string `yaml:"user"`
	Port           int    `yaml:"port"`
	WorkerCommand  string `yaml:"worker_command"`  // fixed program every worker node runs
	SessionName    string `yaml:"session_name"`    // tmux session on the remote node
	KnownHosts     string `yaml:"known_hosts"`     // optional known_hosts file
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	DialAttempts   int    `yaml:"dial_attempts"`
}

// AutoScalerConfig autoscaling controller configuration
type AutoScalerConfig struct {
	Enabled            bool         `yaml:"enabled"`
	PollInterval       int          `yaml:"poll_interval"`        // seconds between queue samples
	MaxDuration        int          `yaml:"max_duration"`         // session ceiling (seconds)
	AddressMaxAttempts int          `yaml:"address_max_attempts"` // public address lookups per activation
	AddressRetryDelay  int          `yaml:"address_retry_delay"`  // seconds before each lookup
	RunningTimeout     int          `yaml:"running_timeout"`      // seconds to wait for the running state
	Nodes              []NodeConfig `yaml:"nodes"`
}

// NodeConfig one pool worker node
type NodeConfig struct {
	ID         string `yaml:"id"`         // EC2 instance id
	Credential string `yaml:"credential"` // credential reference for remote execution
	Name       string `yaml:"name"`
	Threshold  int64  `yaml:"threshold"` // activate when queue depth exceeds this value
}

// NotificationConfig notification configuration
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Defaults for policy values that are not set (or set to a non-positive value).
const (
	DefaultPollInterval       = 10
	DefaultMaxDuration        = 3600
	DefaultAddressMaxAttempts = 10
	DefaultAddressRetryDelay  = 6
	DefaultRunningTimeout     = 600
	DefaultSSHPort            = 22
	DefaultSSHUser            = "ubuntu"
	DefaultConnectTimeout     = 10
	DefaultDialAttempts       = 5
	DefaultWorkerCommand      = "python3 crawler_node.py"
	DefaultSessionName        = "crawler"
	DefaultRetentionDays      = 7
	DefaultQueueProvider      = "sqs"
	DefaultServerPort         = 8080
)

// DefaultAutoScalerConfig returns the autoscaler policy defaults
func DefaultAutoScalerConfig() AutoScalerConfig {
	return AutoScalerConfig{
		Enabled:            true,
		PollInterval:       DefaultPollInterval,
		MaxDuration:        DefaultMaxDuration,
		AddressMaxAttempts: DefaultAddressMaxAttempts,
		AddressRetryDelay:  DefaultAddressRetryDelay,
		RunningTimeout:     DefaultRunningTimeout,
	}
}

// PollIntervalDuration returns the poll interval as a duration
func (c AutoScalerConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// MaxDurationDuration returns the session ceiling as a duration
func (c AutoScalerConfig) MaxDurationDuration() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}

// AddressRetryDelayDuration returns the address retry delay as a duration
func (c AutoScalerConfig) AddressRetryDelayDuration() time.Duration {
	return time.Duration(c.AddressRetryDelay) * time.Second
}

// RunningTimeoutDuration returns the running wait timeout as a duration
func (c AutoScalerConfig) RunningTimeoutDuration() time.Duration {
	return time.Duration(c.RunningTimeout) * time.Second
}

// ConnectTimeoutDuration returns the SSH connect timeout as a duration
func (c RemoteConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, defaults and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	validateAndApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateAndApplyDefaults replaces missing or non-positive values with defaults
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultServerPort
	}

	as := &cfg.AutoScaler
	if as.PollInterval <= 0 {
		as.PollInterval = DefaultPollInterval
	}
	if as.MaxDuration <= 0 {
		as.MaxDuration = DefaultMaxDuration
	}
	if as.AddressMaxAttempts <= 0 {
		as.AddressMaxAttempts = DefaultAddressMaxAttempts
	}
	if as.AddressRetryDelay <= 0 {
		as.AddressRetryDelay = DefaultAddressRetryDelay
	}
	if as.RunningTimeout <= 0 {
		as.RunningTimeout = DefaultRunningTimeout
	}

	r := &cfg.Remote
	if r.Port <= 0 {
		r.Port = DefaultSSHPort
	}
	if r.User == "" {
		r.User = DefaultSSHUser
	}
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.DialAttempts <= 0 {
		r.DialAttempts = DefaultDialAttempts
	}
	if r.WorkerCommand == "" {
		r.WorkerCommand = DefaultWorkerCommand
	}
	if r.SessionName == "" {
		r.SessionName = DefaultSessionName
	}

	if cfg.Queue.Provider == "" {
		cfg.Queue.Provider = DefaultQueueProvider
	}
	if cfg.MySQL.RetentionDays <= 0 {
		cfg.MySQL.RetentionDays = DefaultRetentionDays
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.AutoScaler.Nodes))
	for i, n := range c.AutoScaler.Nodes {
		if n.ID == "" {
			return fmt.Errorf("autoscaler.nodes[%d]: id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("autoscaler.nodes[%d]: duplicate id %s", i, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Threshold < 0 {
			return fmt.Errorf("autoscaler.nodes[%d]: threshold must be >= 0", i)
		}
	}

	switch c.Queue.Provider {
	case "sqs":
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url is required for the sqs provider")
		}
	case "redis":
		if c.Queue.Key == "" {
			return fmt.Errorf("queue.key is required for the redis provider")
		}
	case "asynq":
		if c.Queue.Name == "" {
			return fmt.Errorf("queue.name is required for the asynq provider")
		}
	default:
		return fmt.Errorf("unsupported queue provider: %s", c.Queue.Provider)
	}
	return nil
}
