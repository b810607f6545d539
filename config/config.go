package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatch modes supported by the session controller.
const (
	DispatchWorker = "worker"
	DispatchInline = "inline"
)

type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ClientConfig struct {
	Name             string        `yaml:"name"`
	Network          string        `yaml:"network"`
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	APIKeyFile       string        `yaml:"api_key_file"`
	Channels         []string      `yaml:"channels"`
	SkipTLSVerify    bool          `yaml:"skip_tls_verify"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type DispatchConfig struct {
	Mode      string `yaml:"mode"`
	QueueSize int    `yaml:"queue_size"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	Dashboard      string        `yaml:"dashboard"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoadConfig reads the YAML configuration file, applies defaults and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Client.Name == "" {
		c.Client.Name = "rabbitx"
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = 10 * time.Second
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchWorker
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 1024
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = 20
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = 30 * time.Second
	}
	if c.Recorder.Directory == "" {
		c.Recorder.Directory = "data"
	}
	if c.Metrics.ReportInterval == 0 {
		c.Metrics.ReportInterval = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the combinations a session cannot start without.
func (c *Config) Validate() error {
	if c.Client.URL == "" && c.Client.Network == "" {
		return fmt.Errorf("either client.url or client.network must be provided")
	}
	if c.Client.URL != "" && c.Client.Network != "" {
		return fmt.Errorf("client.url and client.network cannot both be provided")
	}
	if c.Client.Network != "" {
		if _, err := WebsocketURL(c.Client.Network); err != nil {
			return err
		}
	}
	switch c.Dispatch.Mode {
	case DispatchWorker, DispatchInline:
	default:
		return fmt.Errorf("invalid dispatch mode '%s'", c.Dispatch.Mode)
	}
	if c.Client.SkipTLSVerify && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("skip_tls_verify is not allowed in %s", AppEnvironment())
	}
	if c.Recorder.S3.Enabled && c.Recorder.S3.Bucket == "" {
		return fmt.Errorf("recorder.s3.bucket is required when recorder.s3 is enabled")
	}
	return nil
}

// WSURL resolves the websocket endpoint for the configured url or network.
func (c *Config) WSURL() (string, error) {
	if c.Client.URL != "" {
		return c.Client.URL, nil
	}
	return WebsocketURL(c.Client.Network)
}
