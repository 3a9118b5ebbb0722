package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Back-end names accepted in LLM.Order.
const (
	BackendMistral   = "mistral"
	BackendOpenAI    = "openai"
	BackendGroq      = "groq"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// Config holds all configuration values.
type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Store           Store         `yaml:"store"`
	Chat            Chat          `yaml:"chat"`
	LLM             LLM           `yaml:"llm"`
	Log             Log           `yaml:"log"`
}

type Store struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type Chat struct {
	MaxContextMessages int    `yaml:"max_context_messages"`
	MaxMessageLength   int    `yaml:"max_message_length"`
	DefaultTitle       string `yaml:"default_title"`
}

type Generation struct {
	MaxLength   int     `yaml:"max_length"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// LLM configures the back-end chain. Order lists back ends by priority.
type LLM struct {
	Order        []string   `yaml:"order"`
	SystemPrompt string     `yaml:"system_prompt"`
	Generation   Generation `yaml:"generation"`
	// Timeout is the default and minimum per-attempt budget; TimeoutCeiling
	// caps any per-back-end override.
	Timeout        time.Duration `yaml:"timeout"`
	TimeoutCeiling time.Duration `yaml:"timeout_ceiling"`

	Mistral   HTTPBackend  `yaml:"mistral"`
	OpenAI    KeyedBackend `yaml:"openai"`
	Groq      KeyedBackend `yaml:"groq"`
	Anthropic KeyedBackend `yaml:"anthropic"`
	Ollama    LocalBackend `yaml:"ollama"`
}

type HTTPBackend struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type KeyedBackend struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LocalBackend struct {
	Host    string        `yaml:"host"`
	Model   string        `yaml:"model"`
	Format  string        `yaml:"format"`
	Timeout time.Duration `yaml:"timeout"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:            ":8100",
		ShutdownTimeout: 10 * time.Second,
		Store: Store{
			Driver:     DriverSQLite,
			SQLitePath: "pad-i.db",
		},
		Chat: Chat{
			MaxContextMessages: 20,
			MaxMessageLength:   5000,
			DefaultTitle:       "New Chat",
		},
		LLM: LLM{
			Order:          []string{BackendMistral, BackendOpenAI, BackendGroq, BackendAnthropic, BackendOllama},
			SystemPrompt:   "You are a helpful, empathetic assistant. Keep answers clear and concise.",
			Generation:     Generation{MaxLength: 512, Temperature: 0.7, TopP: 0.9},
			Timeout:        60 * time.Second,
			TimeoutCeiling: 300 * time.Second,
			OpenAI:         KeyedBackend{Model: "gpt-3.5-turbo"},
			Groq:           KeyedBackend{Model: "mixtral-8x7b-32768", BaseURL: groqBaseURL},
			Anthropic:      KeyedBackend{Model: "claude-3-haiku-20240307"},
			Ollama:         LocalBackend{Model: "mistral", Format: "plain"},
		},
		Log: Log{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// PADI_CONFIG (if any) and then environment variables, in that order.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("PADI_CONFIG"))
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MergeFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current values.
func (c *Config) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs error
	setString(&c.Addr, "PADI_ADDR")
	setString(&c.Store.Driver, "PADI_STORE_DRIVER")
	setString(&c.Store.SQLitePath, "PADI_SQLITE_PATH")
	setString(&c.Store.PostgresDSN, "PADI_POSTGRES_DSN")
	setString(&c.Chat.DefaultTitle, "PADI_DEFAULT_TITLE")
	setString(&c.LLM.SystemPrompt, "PADI_SYSTEM_PROMPT")
	setString(&c.Log.Level, "PADI_LOG_LEVEL")
	setString(&c.Log.File, "PADI_LOG_FILE")

	setString(&c.LLM.Mistral.URL, "MISTRAL_API_URL")
	setString(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.OpenAI.Model, "PADI_OPENAI_MODEL")
	setString(&c.LLM.Groq.APIKey, "GROQ_API_KEY")
	setString(&c.LLM.Groq.Model, "PADI_GROQ_MODEL")
	setString(&c.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.Anthropic.Model, "PADI_ANTHROPIC_MODEL")
	setString(&c.LLM.Ollama.Host, "OLLAMA_HOST")
	setString(&c.LLM.Ollama.Model, "PADI_OLLAMA_MODEL")
	setString(&c.LLM.Ollama.Format, "PADI_OLLAMA_FORMAT")

	if v := os.Getenv("PADI_BACKENDS"); v != "" {
		c.LLM.Order = splitList(v)
	}

	errs = multierr.Append(errs, setInt(&c.Chat.MaxContextMessages, "PADI_MAX_CONTEXT_MESSAGES"))
	errs = multierr.Append(errs, setInt(&c.Chat.MaxMessageLength, "PADI_MAX_MESSAGE_LENGTH"))
	errs = multierr.Append(errs, setInt(&c.LLM.Generation.MaxLength, "PADI_MAX_LENGTH"))
	errs = multierr.Append(errs, setFloat(&c.LLM.Generation.Temperature, "PADI_TEMPERATURE"))
	errs = multierr.Append(errs, setFloat(&c.LLM.Generation.TopP, "PADI_TOP_P"))
	errs = multierr.Append(errs, setDuration(&c.LLM.Timeout, "PADI_BACKEND_TIMEOUT"))
	errs = multierr.Append(errs, setDuration(&c.LLM.TimeoutCeiling, "PADI_BACKEND_TIMEOUT_CEILING"))
	errs = multierr.Append(errs, setDuration(&c.ShutdownTimeout, "PADI_SHUTDOWN_TIMEOUT"))
	return errs
}

// Validate rejects unusable values and clamps every per-back-end timeout into
// [LLM.Timeout, LLM.TimeoutCeiling]. All problems are reported together.
func (c *Config) Validate() error {
	var errs error

	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = multierr.Append(errs, errors.New("config: store.sqlite_path must not be empty"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			errs = multierr.Append(errs, errors.New("config: store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}

	if c.Chat.MaxContextMessages < 0 {
		errs = multierr.Append(errs, errors.New("config: chat.max_context_messages must not be negative"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		errs = multierr.Append(errs, errors.New("config: chat.max_message_length must be positive"))
	}

	if c.LLM.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("config: llm.timeout must be positive"))
	}
	if c.LLM.TimeoutCeiling < c.LLM.Timeout {
		errs = multierr.Append(errs, errors.New("config: llm.timeout_ceiling must not be below llm.timeout"))
	}
	for _, name := range c.LLM.Order {
		if !knownBackend(name) {
			errs = multierr.Append(errs, fmt.Errorf("config: unknown backend %q", name))
		}
	}
	if f := c.LLM.Ollama.Format; f != "plain" && f != "mistral" {
		errs = multierr.Append(errs, fmt.Errorf("config: llm.ollama.format must be plain or mistral, got %q", f))
	}
	if errs != nil {
		return errs
	}

	c.LLM.Mistral.Timeout = c.LLM.clamp(c.LLM.Mistral.Timeout)
	c.LLM.OpenAI.Timeout = c.LLM.clamp(c.LLM.OpenAI.Timeout)
	c.LLM.Groq.Timeout = c.LLM.clamp(c.LLM.Groq.Timeout)
	c.LLM.Anthropic.Timeout = c.LLM.clamp(c.LLM.Anthropic.Timeout)
	c.LLM.Ollama.Timeout = c.LLM.clamp(c.LLM.Ollama.Timeout)
	return nil
}

func (l LLM) clamp(d time.Duration) time.Duration {
	if d < l.Timeout {
		return l.Timeout
	}
	if d > l.TimeoutCeiling {
		return l.TimeoutCeiling
	}
	return d
}

func knownBackend(name string) bool {
	switch name {
	case BackendMistral, BackendOpenAI, BackendGroq, BackendAnthropic, BackendOllama:
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
