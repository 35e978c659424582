package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Collector.Parallel)
	assert.Equal(t, 500, cfg.Collector.BufferSize)
	assert.Equal(t, 0.0, cfg.Collector.MaxRPS)
	assert.Equal(t, "comments.jsonl", cfg.Collector.Output)
	assert.Equal(t, "token.txt", cfg.API.TokenFile)
	assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout())
	assert.Equal(t, 10*time.Second, cfg.Collector.ShutdownGraceDuration())
	assert.False(t, cfg.Claims.ClaimsEnabled())
}

func TestLoadFromFilesTOMLThenYAML(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.toml", `
[api]
timeout = "5s"
auth = "bearer"

[collector]
parallel = 4
max_rps = 2.5
output = "out/{video_id}.jsonl"
`)
	override := writeFile(t, dir, "override.yaml", `
collector:
  parallel: 2
logging:
  level: debug
  output: [stdout, file]
`)

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.API.RequestTimeout())
	assert.Equal(t, "bearer", cfg.API.Auth)
	assert.Equal(t, 2, cfg.Collector.Parallel)
	assert.Equal(t, 2.5, cfg.Collector.MaxRPS)
	assert.Equal(t, "out/{video_id}.jsonl", cfg.Collector.Output)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logging.Output)
	// untouched defaults survive
	assert.Equal(t, 500, cfg.Collector.BufferSize)
}

func TestLoadFromFilesMissing(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadFromFilesBadSyntax(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.toml", "[collector\nparallel = ")
	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad.toml"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("YTCOMMENTS_PARALLEL", "3")
	t.Setenv("YTCOMMENTS_MAX_RPS", "1.5")
	t.Setenv("YTCOMMENTS_API_KEY", "  env-key ")
	t.Setenv("YTCOMMENTS_LOG_OUTPUT", "file, stdout")
	t.Setenv("YTCOMMENTS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("YTCOMMENTS_LEDGER_ENABLED", "false")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Collector.Parallel)
	assert.Equal(t, 1.5, cfg.Collector.MaxRPS)
	assert.Equal(t, "env-key", cfg.API.APIKey)
	assert.Equal(t, []string{"file", "stdout"}, cfg.Logging.Output)
	assert.True(t, cfg.Claims.ClaimsEnabled())
	assert.False(t, cfg.Ledger.Enabled)
}

func TestEnvOverridesFileValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.toml", "[collector]\nparallel = 6\n")
	t.Setenv("YTCOMMENTS_PARALLEL", "9")

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Collector.Parallel)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero parallel", func(c *Config) { c.Collector.Parallel = 0 }},
		{"zero buffer", func(c *Config) { c.Collector.BufferSize = 0 }},
		{"negative rps", func(c *Config) { c.Collector.MaxRPS = -1 }},
		{"bad auth", func(c *Config) { c.API.Auth = "basic" }},
		{"bad timeout", func(c *Config) { c.API.Timeout = "soon" }},
		{"bad grace", func(c *Config) { c.Collector.ShutdownGrace = "-1s" }},
		{"page size", func(c *Config) { c.API.PageSize = 101 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad output", func(c *Config) { c.Logging.Output = []string{"syslog"} }},
		{"ledger without path", func(c *Config) { c.Ledger.Enabled = true; c.Ledger.Path = "" }},
		{"no output base", func(c *Config) { c.Collector.Output = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLedgerPathOptionalWhenDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Ledger.Enabled = false
	cfg.Ledger.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.True(t, strings.HasPrefix(a, "run_"))
	assert.NotEqual(t, a, b)
}

func TestRecoverConvertsPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover(nil, "test", &err)
		panic("boom")
	}
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
