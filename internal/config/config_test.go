package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PADI_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8100", cfg.Addr)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "pad-i.db", cfg.Store.SQLitePath)
	require.Equal(t, 20, cfg.Chat.MaxContextMessages)
	require.Equal(t, 5000, cfg.Chat.MaxMessageLength)
	require.Equal(t, "New Chat", cfg.Chat.DefaultTitle)
	require.Equal(t, Generation{MaxLength: 512, Temperature: 0.7, TopP: 0.9}, cfg.LLM.Generation)
	require.Equal(t, []string{"mistral", "openai", "groq", "anthropic", "ollama"}, cfg.LLM.Order)
	require.Equal(t, 60*time.Second, cfg.LLM.OpenAI.Timeout)
	require.Equal(t, "https://api.groq.com/openai/v1", cfg.LLM.Groq.BaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PADI_CONFIG", "")
	t.Setenv("PADI_ADDR", ":9000")
	t.Setenv("PADI_MAX_CONTEXT_MESSAGES", "0")
	t.Setenv("PADI_TEMPERATURE", "0.2")
	t.Setenv("PADI_BACKENDS", "openai, ollama")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MISTRAL_API_URL", "http://10.0.0.5:8000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, 0, cfg.Chat.MaxContextMessages)
	require.InDelta(t, 0.2, cfg.LLM.Generation.Temperature, 1e-9)
	require.Equal(t, []string{"openai", "ollama"}, cfg.LLM.Order)
	require.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
	require.Equal(t, "http://10.0.0.5:8000", cfg.LLM.Mistral.URL)
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv("PADI_CONFIG", "")
	t.Setenv("PADI_MAX_MESSAGE_LENGTH", "lots")
	t.Setenv("PADI_BACKEND_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PADI_MAX_MESSAGE_LENGTH")
	require.Contains(t, err.Error(), "PADI_BACKEND_TIMEOUT")
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":7000"
store:
  driver: postgres
  postgres_dsn: postgres://padi@localhost/padi
llm:
  order: [ollama]
  ollama:
    host: http://localhost:11434
    format: mistral
    timeout: 120s
`), 0o644))
	t.Setenv("PADI_CONFIG", path)
	t.Setenv("PADI_ADDR", ":7001")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7001", cfg.Addr, "environment wins over the file")
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, []string{"ollama"}, cfg.LLM.Order)
	require.Equal(t, "mistral", cfg.LLM.Ollama.Format)
	require.Equal(t, "mistral", cfg.LLM.Ollama.Model, "unset keys keep defaults")
	require.Equal(t, 120*time.Second, cfg.LLM.Ollama.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("PADI_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidateClampsTimeouts(t *testing.T) {
	cfg := Default()
	cfg.LLM.OpenAI.Timeout = 5 * time.Second
	cfg.LLM.Mistral.Timeout = 10 * time.Minute
	cfg.LLM.Ollama.Timeout = 90 * time.Second

	require.NoError(t, cfg.Validate())
	require.Equal(t, 60*time.Second, cfg.LLM.OpenAI.Timeout)
	require.Equal(t, 300*time.Second, cfg.LLM.Mistral.Timeout)
	require.Equal(t, 90*time.Second, cfg.LLM.Ollama.Timeout)
	require.Equal(t, 60*time.Second, cfg.LLM.Groq.Timeout)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"negative window", func(c *Config) { c.Chat.MaxContextMessages = -1 }},
		{"zero message length", func(c *Config) { c.Chat.MaxMessageLength = 0 }},
		{"unknown backend", func(c *Config) { c.LLM.Order = []string{"openai", "bard"} }},
		{"ceiling below floor", func(c *Config) { c.LLM.TimeoutCeiling = time.Second }},
		{"bad transcript format", func(c *Config) { c.LLM.Ollama.Format = "chatml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := NewLoggerWithWriters(&stderr, &file, zapcore.InfoLevel)

	logger.Debug("hidden")
	logger.Info("turn committed")
	require.NoError(t, logger.Sync())

	require.Contains(t, stderr.String(), "turn committed")
	require.NotContains(t, stderr.String(), "hidden")
	require.Contains(t, file.String(), `"msg":"turn committed"`)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padi.log")
	logger, cleanup, err := NewLogger(Log{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, cleanup())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"msg":"hello"`)
}

func TestNewLoggerBadLevel(t *testing.T) {
	_, _, err := NewLogger(Log{Level: "loud"})
	require.Error(t, err)
}
