// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/pkg/errors"
)

// Config holds the SDK configuration.
type Config struct {
	// Token is the project write token. Without it nothing is sent to the
	// backend.
	Token string `yaml:"token"`

	// BaseURL is the backend root. Defaults to the region encoded in Token.
	BaseURL string `yaml:"base_url"`

	// SendToLogfire enables export to the backend when a token is set.
	SendToLogfire bool `yaml:"send_to_logfire"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version"`

	// Environment is recorded as deployment.environment.
	Environment string `yaml:"environment"`

	// DataDir holds backup and retry files (default: .logfire).
	DataDir string `yaml:"data_dir"`

	// Console configures the local console exporter.
	Console ConsoleConfig `yaml:"console"`

	// Sampling configures head and tail sampling.
	Sampling SamplingConfig `yaml:"sampling"`

	// Scrubbing configures redaction of sensitive values.
	Scrubbing ScrubbingConfig `yaml:"scrubbing"`

	// Exporters are additional export destinations.
	Exporters []ExporterConfig `yaml:"exporters"`

	// Metrics configures the metrics pipeline.
	Metrics MetricsConfig `yaml:"metrics"`

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int `yaml:"batch_size"`

	// BatchInterval is how often to flush spans (default: 500ms).
	BatchInterval time.Duration `yaml:"batch_interval"`

	// MaxBodySize caps a single export request body in bytes. Larger
	// batches are split (default: 5 MiB).
	MaxBodySize int `yaml:"max_body_size"`

	// RetryQueueLimit caps the number of failed requests queued on disk
	// (default: 1000).
	RetryQueueLimit int `yaml:"retry_queue_limit"`
}

// ConsoleConfig configures console output.
type ConsoleConfig struct {
	// Enabled prints spans to stdout.
	Enabled bool `yaml:"enabled"`

	// Format is "pretty" or "json".
	Format string `yaml:"format"`

	// MinLevel hides logs below this level.
	MinLevel string `yaml:"min_level"`

	// Colors is "auto", "always" or "never".
	Colors string `yaml:"colors"`

	// Verbose adds attributes to pretty output.
	Verbose bool `yaml:"verbose"`
}

// ScrubbingConfig controls redaction.
type ScrubbingConfig struct {
	// Disabled turns scrubbing off entirely.
	Disabled bool `yaml:"disabled"`

	// ExtraPatterns are added to the built-in patterns.
	ExtraPatterns []string `yaml:"extra_patterns"`
}

// ExporterConfig defines an additional export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", "console" or "none".
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver address.
	Endpoint string `yaml:"endpoint"`

	// Headers are additional headers for authentication.
	Headers map[string]string `yaml:"headers"`

	// TLS configures secure connections.
	TLS TLSConfig `yaml:"tls"`

	// Timeout is the export timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// TLSConfig configures TLS for exporters.
type TLSConfig struct {
	// Enabled activates TLS.
	Enabled bool `yaml:"enabled"`

	// VerifyCertificate controls certificate validation.
	VerifyCertificate bool `yaml:"verify_certificate"`

	// CACertPath is the path to the CA certificate.
	CACertPath string `yaml:"ca_cert_path"`
}

// MetricsConfig configures the metrics pipeline.
type MetricsConfig struct {
	// Enabled exports metrics to the backend.
	Enabled bool `yaml:"enabled"`

	// Interval is the export period (default: 60s).
	Interval time.Duration `yaml:"interval"`

	// PrometheusAddr, when set, serves the SDK's metrics on this address
	// at /metrics.
	PrometheusAddr string `yaml:"prometheus_addr"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendToLogfire:  true,
		ServiceName:    "unknown_service",
		ServiceVersion: "unknown",
		DataDir:        ".logfire",
		Console: ConsoleConfig{
			Enabled:  true,
			Format:   "pretty",
			MinLevel: "info",
			Colors:   "auto",
		},
		Sampling: SamplingConfig{
			Head:               1.0,
			AlwaysSampleErrors: false,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
		},
		BatchSize:       512,
		BatchInterval:   500 * time.Millisecond,
		MaxBodySize:     5 * 1024 * 1024,
		RetryQueueLimit: 1000,
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error. The environment is applied on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, errors.Wrapf(err, "reading config %s", path)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &errors.ConfigError{Key: "file", Reason: "invalid YAML in " + path, Cause: err}
			}
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays LOGFIRE_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &errors.ConfigError{Key: key, Reason: "must be true or false", Cause: err}
		}
		*dst = b
		return nil
	}

	str("LOGFIRE_TOKEN", &c.Token)
	str("LOGFIRE_BASE_URL", &c.BaseURL)
	str("LOGFIRE_SERVICE_NAME", &c.ServiceName)
	str("LOGFIRE_SERVICE_VERSION", &c.ServiceVersion)
	str("LOGFIRE_ENVIRONMENT", &c.Environment)
	str("LOGFIRE_DATA_DIR", &c.DataDir)
	if err := boolean("LOGFIRE_SEND_TO_LOGFIRE", &c.SendToLogfire); err != nil {
		return err
	}
	if err := boolean("LOGFIRE_CONSOLE", &c.Console.Enabled); err != nil {
		return err
	}
	if v := getenv("LOGFIRE_SAMPLE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &errors.ConfigError{Key: "LOGFIRE_SAMPLE_RATE", Reason: "must be a number", Cause: err}
		}
		c.Sampling.Head = rate
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Sampling.Head < 0 || c.Sampling.Head > 1 {
		return &errors.ConfigError{Key: "sampling.head", Reason: "must be between 0 and 1"}
	}
	if t := c.Sampling.Tail; t != nil {
		if t.RandomRate < 0 || t.RandomRate > 1 {
			return &errors.ConfigError{Key: "sampling.tail.random_rate", Reason: "must be between 0 and 1"}
		}
		if t.Duration <= 0 {
			return &errors.ConfigError{Key: "sampling.tail.duration", Reason: "must be positive"}
		}
	}
	if c.BatchSize <= 0 {
		return &errors.ConfigError{Key: "batch_size", Reason: "must be positive"}
	}
	if c.MaxBodySize <= 0 {
		return &errors.ConfigError{Key: "max_body_size", Reason: "must be positive"}
	}
	if c.RetryQueueLimit <= 0 {
		return &errors.ConfigError{Key: "retry_queue_limit", Reason: "must be positive"}
	}
	switch c.Console.Format {
	case "", "pretty", "json":
	default:
		return &errors.ConfigError{Key: "console.format", Reason: "must be pretty or json"}
	}
	if c.Console.MinLevel != "" {
		if _, ok := attrs.ParseLevel(c.Console.MinLevel); !ok {
			return &errors.ConfigError{Key: "console.min_level", Reason: "unknown level " + c.Console.MinLevel}
		}
	}
	return nil
}

// ExportEnabled reports whether spans go to the backend.
func (c *Config) ExportEnabled() bool {
	return c.SendToLogfire && c.Token != ""
}

// ResolvedBaseURL returns BaseURL, or the regional endpoint encoded in a
// token of the form pylf_v1_<region>_...
func (c *Config) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	region := "us"
	if parts := strings.SplitN(c.Token, "_", 4); len(parts) == 4 && parts[0] == "pylf" && parts[1] == "v1" {
		region = parts[2]
	}
	return "https://logfire-" + region + ".pydantic.dev"
}

// BackupPath is where the fallback exporter writes undeliverable spans.
func (c *Config) BackupPath() string {
	return filepath.Join(c.DataDir, "logfire_spans.bin")
}

// RetryDir holds request bodies waiting to be retried.
func (c *Config) RetryDir() string {
	return filepath.Join(c.DataDir, "retry")
}
