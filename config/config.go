// Package config loads service settings from config.yaml, .env and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"exovision/logger"
	"exovision/training"
)

// DefaultPath is read when no path is given; it may be absent.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. EXOVISION_HTTP_ADDR.
const EnvPrefix = "EXOVISION"

type Config struct {
	HTTP     HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Store    StoreConfig     `yaml:"store" envconfig:"STORE"`
	Datasets DatasetConfig   `yaml:"datasets" envconfig:"DATASETS"`
	Database DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Log      logger.Config   `yaml:"log" envconfig:"LOG"`
	LLM      LLMConfig       `yaml:"llm" envconfig:"LLM"`
	Training training.Config `yaml:"training" envconfig:"TRAINING"`
	Schedule ScheduleConfig  `yaml:"schedule" envconfig:"SCHEDULE"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" split_words:"true"`
	MaxBatchRows    int           `yaml:"max_batch_rows" split_words:"true"`
	StaticDir       string        `yaml:"static_dir" split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
	TrainToken      string        `yaml:"train_token" split_words:"true"`
}

type StoreConfig struct {
	Dir       string        `yaml:"dir" split_words:"true"`
	CacheSize int           `yaml:"cache_size" split_words:"true"`
	Watch     bool          `yaml:"watch" split_words:"true"`
	Debounce  time.Duration `yaml:"debounce" split_words:"true"`
}

type DatasetConfig struct {
	Dir          string `yaml:"dir" split_words:"true"`
	MaxFileBytes int64  `yaml:"max_file_bytes" split_words:"true"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// LLMConfig selects the chat provider. API keys also fall back to the
// unprefixed GEMINI_API_KEY and OPENAI_API_KEY variables; no other field has
// an unprefixed fallback.
type LLMConfig struct {
	Provider      string        `yaml:"provider" split_words:"true"`
	Model         string        `yaml:"model" split_words:"true"`
	BaseURL       string        `yaml:"base_url" split_words:"true"`
	GeminiAPIKey  string        `yaml:"gemini_api_key" envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey  string        `yaml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	Timeout       time.Duration `yaml:"timeout" split_words:"true"`
	MaxTokens     int           `yaml:"max_tokens" split_words:"true"`
	RatePerMinute float64       `yaml:"rate_per_minute" split_words:"true"`
	Burst         int           `yaml:"burst" split_words:"true"`
}

// ScheduleConfig drives periodic retraining from the dataset directory.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Cron    string `yaml:"cron" split_words:"true"`
	Model   string `yaml:"model" split_words:"true"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":5000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     120 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    64 << 20,
			MaxBatchRows:    100,
			StaticDir:       "static",
			AllowedOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Dir:       "models",
			CacheSize: 4096,
			Watch:     true,
			Debounce:  500 * time.Millisecond,
		},
		Datasets: DatasetConfig{
			Dir:          "data",
			MaxFileBytes: 50 << 20,
		},
		Database: DatabaseConfig{
			Path: "exovision.db",
		},
		Log: logger.Config{
			Level:  "info",
			Format: "json",
		},
		LLM: LLMConfig{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash-lite",
			Timeout:       30 * time.Second,
			MaxTokens:     1024,
			RatePerMinute: 20,
			Burst:         5,
		},
		Training: training.DefaultConfig(),
		Schedule: ScheduleConfig{
			Cron:  "0 3 * * 0",
			Model: "scheduled",
		},
	}
}

// Load builds the configuration. A missing file at DefaultPath is not an
// error; a missing explicitly named file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBatchRows <= 0 {
		errs = append(errs, errors.New("http.max_batch_rows must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required"))
	}
	if c.Datasets.Dir == "" {
		errs = append(errs, errors.New("datasets.dir is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if t := c.Training.TestSize; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("training.test_size %.2f must be in (0, 1)", t))
	}
	if c.Training.CVFolds < 2 {
		errs = append(errs, errors.New("training.cv_folds must be at least 2"))
	}
	switch c.LLM.Provider {
	case "gemini", "openai", "deepseek", "none":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.RatePerMinute < 0 {
		errs = append(errs, errors.New("llm.rate_per_minute must not be negative"))
	}
	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
		if c.Schedule.Model == "" {
			errs = append(errs, errors.New("schedule.model is required when scheduling is enabled"))
		}
	}
	return errors.Join(errs...)
}
