package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
global:
  log_level: info
input:
  path: ./data/sample.csv
processing:
  concurrency: 4
  robots: ["1", "2"]
output:
  dir: ./original-output
upload:
  s3:
    enabled: false
    bucket: original-bucket
index:
  database:
    driver: sqlite
    sqlite:
      path: /tmp/original.db
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "./data/sample.csv", cfg.Input.Path)
				assert.Equal(t, 4, cfg.Processing.Concurrency)
				assert.Equal(t, "./original-output", cfg.Output.Dir)
				assert.Equal(t, "original-bucket", cfg.Upload.S3.Bucket)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"RUNFEATURES_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "integer override - concurrency",
			envVars: map[string]string{
				"RUNFEATURES_PROCESSING_CONCURRENCY": "16",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Processing.Concurrency)
			},
		},
		{
			name: "boolean override - upload enabled",
			envVars: map[string]string{
				"RUNFEATURES_UPLOAD_S3_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Upload.S3.Enabled)
			},
		},
		{
			name: "slice override - robots",
			envVars: map[string]string{
				"RUNFEATURES_PROCESSING_ROBOTS": "1,2,3",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"1", "2", "3"}, cfg.Processing.Robots)
			},
		},
		{
			name: "nested override - sqlite path",
			envVars: map[string]string{
				"RUNFEATURES_INDEX_DATABASE_SQLITE_PATH": "/tmp/custom.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/custom.db", cfg.Index.Database.SQLite.Path)
			},
		},
		{
			name: "key absent from file - influx url",
			envVars: map[string]string{
				"RUNFEATURES_INFLUX_URL": "http://influx:8086",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
			},
		},
		{
			name: "duration override - api shutdown timeout",
			envVars: map[string]string{
				"RUNFEATURES_API_SHUTDOWN_TIMEOUT": "3s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.API.ShutdownTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultOutputDir, cfg.Output.Dir)
	assert.Equal(t, runtime.NumCPU(), cfg.Processing.Concurrency)
	assert.Equal(t, []string{"1", "2"}, cfg.Processing.Robots)
	assert.True(t, cfg.Output.SummaryMarkdown)
	assert.Equal(t, DefaultMarkdownMaxChars, cfg.Output.MarkdownMaxChars)
	assert.Equal(t, "sqlite", cfg.Index.Database.Driver)
	assert.Equal(t, DefaultInfluxMeasurement, cfg.Influx.Measurement)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, DefaultS3Prefix, cfg.Upload.S3.Prefix)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
input:
  path: base.csv
output:
  dir: ./base
`)
	override := writeConfig(t, "override.yaml", `
output:
  dir: ./override
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "base.csv", cfg.Input.Path)
	assert.Equal(t, "./override", cfg.Output.Dir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeConfig(t, "bad.yaml", "output: [unterminated")
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)

		cfg.Input.Path = "input.csv"

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing input",
			mutate:  func(c *Config) { c.Input.Path = "" },
			wantErr: "input.path is required",
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Input.Format = "json" },
			wantErr: "must be csv, xlsx or parquet",
		},
		{
			name:   "parquet format",
			mutate: func(c *Config) { c.Input.Format = "parquet" },
		},
		{
			name:    "no robots",
			mutate:  func(c *Config) { c.Processing.Robots = nil },
			wantErr: "at least one robot",
		},
		{
			name:    "duplicate robot",
			mutate:  func(c *Config) { c.Processing.Robots = []string{"1", "1"} },
			wantErr: "duplicate robot",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Upload.S3.Enabled = true },
			wantErr: "upload.s3.bucket is required",
		},
		{
			name: "index with unknown driver",
			mutate: func(c *Config) {
				c.Index.Enabled = true
				c.Index.Database.Driver = "mysql"
			},
			wantErr: "unsupported database driver",
		},
		{
			name:    "influx incomplete",
			mutate:  func(c *Config) { c.Influx.Enabled = true },
			wantErr: "influx: url, org and bucket are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAPI(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.NoError(t, cfg.ValidateAPI())

	cfg.API.RateLimit.Enabled = true
	cfg.API.RateLimit.RequestsPerMinute = 0
	assert.Error(t, cfg.ValidateAPI())
}

func TestRedacted(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Upload.S3.SecretAccessKey = "super-secret"
	cfg.Influx.Token = "token-value"

	out, err := cfg.Redacted()
	require.NoError(t, err)

	assert.NotContains(t, string(out), "super-secret")
	assert.NotContains(t, string(out), "token-value")
	assert.Contains(t, string(out), "********")
	assert.Equal(t, "super-secret", cfg.Upload.S3.SecretAccessKey, "original untouched")
}
