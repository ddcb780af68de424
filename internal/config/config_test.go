package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Import.BatchSize)
	assert.Equal(t, int64(1000), cfg.Bootstrap.MinThreshold)
	assert.Equal(t, int64(10000), cfg.Bootstrap.TargetCount)
	assert.Equal(t, "local", cfg.Bootstrap.Mode)
}

func TestLoad_RejectsTargetBelowThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, "bootstrap:\n  min_threshold: 500\n  target_count: 100\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap.target_count")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite"},
			Import: ImportConfig{
				BatchSize:   100,
				Concurrency: 2,
				SafetyCap:   1000,
			},
			Bootstrap: BootstrapConfig{MinThreshold: 10, TargetCount: 100, Mode: "local"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"target equal to threshold", func(c *Config) { c.Bootstrap.TargetCount = 10 }, ""},
		{"target below threshold", func(c *Config) { c.Bootstrap.TargetCount = 5 }, "bootstrap.target_count"},
		{"zero target with threshold", func(c *Config) { c.Bootstrap.TargetCount = 0 }, "bootstrap.target_count"},
		{"negative threshold", func(c *Config) { c.Bootstrap.MinThreshold = -1 }, "bootstrap.min_threshold"},
		{"zero batch size", func(c *Config) { c.Import.BatchSize = 0 }, "import.batch_size"},
		{"tolerance above one", func(c *Config) { c.Import.FailureTolerance = 1.5 }, "import.failure_tolerance"},
		{"unknown mode", func(c *Config) { c.Bootstrap.Mode = "cloud" }, "bootstrap.mode"},
		{"remote without url", func(c *Config) { c.Bootstrap.Mode = "remote" }, "functions.base_url"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "database.url"},
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
