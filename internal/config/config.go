// Package config loads service configuration by layering defaults, an
// optional YAML file (PARLEY_CONFIG), and environment variables, with the
// environment taking precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	OpenAIAPIKey      string  `koanf:"openai_api_key"`
	OpenAIModel       string  `koanf:"openai_model"`
	OpenAITemperature float64 `koanf:"openai_temperature"`
	OpenAIBaseURL     string  `koanf:"openai_base_url"`

	// StorageType selects the backend: filesystem, postgres, s3, r2.
	StorageType string `koanf:"storage_type"`
	StoragePath string `koanf:"storage_path"`
	DatabaseURL string `koanf:"database_url"`

	S3Bucket    string `koanf:"s3_bucket"`
	S3Region    string `koanf:"s3_region"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`

	// EventConfidenceThreshold gates which extracted events feed scoring.
	EventConfidenceThreshold float64 `koanf:"event_confidence_threshold"`
	// MinFactQuestionsBase is the fallback fact-question minimum for
	// scenarios that do not set their own.
	MinFactQuestionsBase int `koanf:"min_fact_questions_base"`

	MaxRetries          int           `koanf:"scoring_max_retries"`
	RetryBackoffSeconds float64       `koanf:"scoring_retry_backoff"`
	GradingTimeout      time.Duration `koanf:"grading_timeout"`

	// ScenariosPath points at a directory of YAML scenario packs. Empty
	// means built-ins only.
	ScenariosPath string `koanf:"scenarios_path"`

	Port      int    `koanf:"port"`
	NatsURL   string `koanf:"nats_url"`
	NatsToken string `koanf:"nats_token"`

	SlackBotToken string `koanf:"slack_bot_token"`
	SlackChannel  string `koanf:"slack_channel"`

	LogLevel string `koanf:"log_level"`
}

// envKeys maps recognized environment variables to koanf keys. Anything
// else in the process environment is ignored.
var envKeys = map[string]string{
	"OPENAI_API_KEY":             "openai_api_key",
	"OPENAI_MODEL":               "openai_model",
	"OPENAI_TEMPERATURE":         "openai_temperature",
	"OPENAI_BASE_URL":            "openai_base_url",
	"STORAGE_TYPE":               "storage_type",
	"STORAGE_PATH":               "storage_path",
	"DATABASE_URL":               "database_url",
	"S3_BUCKET":                  "s3_bucket",
	"S3_REGION":                  "s3_region",
	"S3_ACCESS_KEY":              "s3_access_key",
	"S3_SECRET_KEY":              "s3_secret_key",
	"EVENT_CONFIDENCE_THRESHOLD": "event_confidence_threshold",
	"MIN_FACT_QUESTIONS_BASE":    "min_fact_questions_base",
	"SCORING_MAX_RETRIES":        "scoring_max_retries",
	"SCORING_RETRY_BACKOFF":      "scoring_retry_backoff",
	"GRADING_TIMEOUT":            "grading_timeout",
	"SCENARIOS_PATH":             "scenarios_path",
	"PARLEY_PORT":                "port",
	"NATS_URL":                   "nats_url",
	"NATS_TOKEN":                 "nats_token",
	"SLACK_BOT_TOKEN":            "slack_bot_token",
	"SLACK_CHANNEL":              "slack_channel",
	"LOG_LEVEL":                  "log_level",
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		OpenAIModel:              "gpt-4o",
		OpenAITemperature:        0.3,
		OpenAIBaseURL:            "https://api.openai.com/v1",
		StorageType:              "filesystem",
		StoragePath:              "./data",
		S3Region:                 "us-east-1",
		EventConfidenceThreshold: 0.55,
		MinFactQuestionsBase:     3,
		MaxRetries:               3,
		RetryBackoffSeconds:      1.0,
		GradingTimeout:           60 * time.Second,
		Port:                     8760,
		LogLevel:                 "info",
	}
}

// Load layers defaults, the optional PARLEY_CONFIG YAML file, and the
// environment. It does not validate; call Validate and treat a non-empty
// result as fatal at startup.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("PARLEY_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(s string) string {
		return envKeys[s] // unrecognized names return "" and are skipped
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate returns every configuration problem rather than the first one,
// so a bad deploy surfaces all of its mistakes in one pass.
func (c *Config) Validate() []string {
	var errs []string

	if c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	switch c.StorageType {
	case "filesystem":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for postgres storage")
		}
	case "s3", "r2":
		if c.S3Bucket == "" {
			errs = append(errs, "S3_BUCKET is required for S3/R2 storage")
		}
		if c.S3AccessKey == "" {
			errs = append(errs, "S3_ACCESS_KEY is required for S3/R2 storage")
		}
		if c.S3SecretKey == "" {
			errs = append(errs, "S3_SECRET_KEY is required for S3/R2 storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("Invalid STORAGE_TYPE: %s", c.StorageType))
	}

	if c.EventConfidenceThreshold < 0 || c.EventConfidenceThreshold > 1 {
		errs = append(errs, "EVENT_CONFIDENCE_THRESHOLD must be between 0 and 1")
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		errs = append(errs, "OPENAI_TEMPERATURE must be between 0 and 2")
	}
	if c.MinFactQuestionsBase < 0 {
		errs = append(errs, "MIN_FACT_QUESTIONS_BASE must not be negative")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "SCORING_MAX_RETRIES must not be negative")
	}
	if c.RetryBackoffSeconds <= 0 {
		errs = append(errs, "SCORING_RETRY_BACKOFF must be positive")
	}
	if c.GradingTimeout <= 0 {
		errs = append(errs, "GRADING_TIMEOUT must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PARLEY_PORT must be a valid port, got %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("Invalid LOG_LEVEL: %s", c.LogLevel))
	}

	return errs
}

// RetryBackoff converts the configured base backoff to a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds * float64(time.Second))
}

// SlogLevel maps the configured level name onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
