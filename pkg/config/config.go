package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix of environment variable overrides, e.g.
	// RUNFEATURES_OUTPUT_DIR overrides output.dir.
	EnvPrefix = "RUNFEATURES"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the default directory for run tables and summaries.
	DefaultOutputDir = "./output"

	// DefaultMarkdownMaxChars caps the markdown summary size.
	DefaultMarkdownMaxChars = 60000

	// DefaultInfluxMeasurement is the default InfluxDB measurement name.
	DefaultInfluxMeasurement = "robot_features"

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"

	// DefaultS3Prefix is the default key prefix for uploads.
	DefaultS3Prefix = "telemetry"
)

// Config is the root configuration.
type Config struct {
	Global     GlobalConfig     `yaml:"global" mapstructure:"global"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Influx     InfluxConfig     `yaml:"influx" mapstructure:"influx"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// InputConfig selects the long-format telemetry file.
type InputConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Format string `yaml:"format,omitempty" mapstructure:"format"`
	Sheet  string `yaml:"sheet,omitempty" mapstructure:"sheet"`
}

// ProcessingConfig controls the per-run pipeline.
type ProcessingConfig struct {
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
	Robots      []string `yaml:"robots" mapstructure:"robots"`
	FailFast    bool     `yaml:"fail_fast" mapstructure:"fail_fast"`
}

// OutputConfig controls local result files.
type OutputConfig struct {
	Dir              string `yaml:"dir" mapstructure:"dir"`
	Owner            string `yaml:"owner,omitempty" mapstructure:"owner"`
	SummaryMarkdown  bool   `yaml:"summary_markdown" mapstructure:"summary_markdown"`
	SummaryXLSX      bool   `yaml:"summary_xlsx" mapstructure:"summary_xlsx"`
	MarkdownMaxChars int    `yaml:"markdown_max_chars" mapstructure:"markdown_max_chars"`
}

// UploadConfig configures remote result upload.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL       string  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region            string  `yaml:"region,omitempty" mapstructure:"region"`
	Bucket            string  `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID       string  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey   string  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle    bool    `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix            string  `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass      string  `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL               string  `yaml:"acl,omitempty" mapstructure:"acl"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
}

// IndexConfig configures the run report index database.
type IndexConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// InfluxConfig configures export of feature series to InfluxDB.
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	URL         string `yaml:"url" mapstructure:"url"`
	Token       string `yaml:"token,omitempty" mapstructure:"token"`
	Org         string `yaml:"org" mapstructure:"org"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Measurement string `yaml:"measurement" mapstructure:"measurement"`
}

// APIConfig contains read API server settings.
type APIConfig struct {
	Listen          string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins     []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// defaults registers every key so environment overrides apply even when a
// key is absent from the config files.
var defaults = map[string]any{
	"global.log_level":                   DefaultLogLevel,
	"input.path":                         "",
	"input.format":                       "",
	"input.sheet":                        "",
	"processing.concurrency":             runtime.NumCPU(),
	"processing.robots":                  []string{"1", "2"},
	"processing.fail_fast":               false,
	"output.dir":                         DefaultOutputDir,
	"output.owner":                       "",
	"output.summary_markdown":            true,
	"output.summary_xlsx":                false,
	"output.markdown_max_chars":          DefaultMarkdownMaxChars,
	"upload.s3.enabled":                  false,
	"upload.s3.endpoint_url":             "",
	"upload.s3.region":                   "",
	"upload.s3.bucket":                   "",
	"upload.s3.access_key_id":            "",
	"upload.s3.secret_access_key":        "",
	"upload.s3.force_path_style":         false,
	"upload.s3.prefix":                   DefaultS3Prefix,
	"upload.s3.storage_class":            "",
	"upload.s3.acl":                      "",
	"upload.s3.requests_per_second":      0,
	"index.enabled":                      false,
	"index.database.driver":              "sqlite",
	"index.database.sqlite.path":         "runfeatures.db",
	"index.database.postgres.host":       "",
	"index.database.postgres.port":       5432,
	"index.database.postgres.user":       "",
	"index.database.postgres.password":   "",
	"index.database.postgres.database":   "",
	"index.database.postgres.ssl_mode":   "disable",
	"influx.enabled":                     false,
	"influx.url":                         "",
	"influx.token":                       "",
	"influx.org":                         "",
	"influx.bucket":                      "",
	"influx.measurement":                 DefaultInfluxMeasurement,
	"api.listen":                         DefaultAPIListen,
	"api.cors_origins":                   []string{},
	"api.rate_limit.enabled":             false,
	"api.rate_limit.requests_per_minute": 120,
	"api.shutdown_timeout":               "10s",
}

// Load reads and merges the given configuration files in order, applies
// environment overrides and defaults. With no paths only defaults and the
// environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values that may have been explicitly blanked.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}

	if c.Processing.Concurrency <= 0 {
		c.Processing.Concurrency = runtime.NumCPU()
	}

	if c.Influx.Measurement == "" {
		c.Influx.Measurement = DefaultInfluxMeasurement
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	if c.Upload.S3.Prefix == "" {
		c.Upload.S3.Prefix = DefaultS3Prefix
	}
}

// Validate checks the processing configuration for errors.
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input.path is required")
	}

	switch c.Input.Format {
	case "", "csv", "xlsx", "parquet":
	default:
		return fmt.Errorf("input.format %q must be csv, xlsx or parquet", c.Input.Format)
	}

	if len(c.Processing.Robots) == 0 {
		return fmt.Errorf("processing.robots must list at least one robot")
	}

	seen := make(map[string]struct{}, len(c.Processing.Robots))
	for _, r := range c.Processing.Robots {
		if r == "" {
			return fmt.Errorf("processing.robots contains an empty robot id")
		}

		if _, dup := seen[r]; dup {
			return fmt.Errorf("processing.robots: duplicate robot %q", r)
		}

		seen[r] = struct{}{}
	}

	if c.Output.MarkdownMaxChars < 0 {
		return fmt.Errorf("output.markdown_max_chars must not be negative")
	}

	if c.Upload.S3.Enabled {
		if err := c.ValidateUpload(); err != nil {
			return err
		}
	}

	if c.Index.Enabled {
		if err := c.Index.Database.Validate(); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}

	if c.Influx.Enabled {
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx: url, org and bucket are required when enabled")
		}
	}

	return nil
}

// ValidateUpload checks the S3 upload settings.
func (c *Config) ValidateUpload() error {
	if c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required")
	}

	if c.Upload.S3.RequestsPerSecond < 0 {
		return fmt.Errorf("upload.s3.requests_per_second must not be negative")
	}

	return nil
}

// ValidateAPI checks the API server settings.
func (c *Config) ValidateAPI() error {
	if err := c.Index.Database.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must be positive")
	}

	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" || d.Postgres.Database == "" {
			return fmt.Errorf("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}

	return nil
}

// Redacted renders the effective configuration as YAML with secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	cp := *c

	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}

	mask(&cp.Upload.S3.AccessKeyID)
	mask(&cp.Upload.S3.SecretAccessKey)
	mask(&cp.Index.Database.Postgres.Password)
	mask(&cp.Influx.Token)

	out, err := yaml.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return out, nil
}
