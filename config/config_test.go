package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.HTTP.MaxBatchRows)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.Training.TestSize)
	assert.Equal(t, int64(42), cfg.Training.Seed)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":8080"
  request_timeout: 5s
  max_batch_rows: 50
store:
  dir: /tmp/models
training:
  n_iter: 3
llm:
  provider: openai
  base_url: https://api.deepseek.com/v1
`)
	t.Setenv("EXOVISION_HTTP_ADDR", ":9090")
	t.Setenv("EXOVISION_STORE_CACHE_SIZE", "10")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 50, cfg.HTTP.MaxBatchRows)
	assert.Equal(t, "/tmp/models", cfg.Store.Dir)
	assert.Equal(t, 10, cfg.Store.CacheSize)
	assert.Equal(t, 3, cfg.Training.NIter)
	assert.Equal(t, 3, cfg.Training.CVFolds)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIAPIKey)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data", cfg.Datasets.Dir)
	// $PATH must not leak into database.path.
	assert.Equal(t, "exovision.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "http: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"zero batch rows", func(c *Config) { c.HTTP.MaxBatchRows = 0 }},
		{"bad test size", func(c *Config) { c.Training.TestSize = 1.5 }},
		{"one fold", func(c *Config) { c.Training.CVFolds = 1 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"bad cron", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.Cron = "every tuesday"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
