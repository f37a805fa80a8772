package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Reader    ReaderConfig    `yaml:"reader" mapstructure:"reader"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ReaderConfig holds Jina AI Reader settings. When Key is empty the
// engine falls back to the local HTML extractor.
type ReaderConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ResearchConfig configures the orchestration engine.
type ResearchConfig struct {
	MaxFollowups            int `yaml:"max_followups" mapstructure:"max_followups"`
	QuestionTimeoutSecs     int `yaml:"question_timeout_secs" mapstructure:"question_timeout_secs"`
	AnalysisTimeoutSecs     int `yaml:"analysis_timeout_secs" mapstructure:"analysis_timeout_secs"`
	ExtractTimeoutSecs      int `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	MaxConcurrent           int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	EstimateBaseSecs        int `yaml:"estimate_base_secs" mapstructure:"estimate_base_secs"`
	EstimatePerInflightSecs int `yaml:"estimate_per_inflight_secs" mapstructure:"estimate_per_inflight_secs"`
	StaleAfterMins          int `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	SweepIntervalSecs       int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// AuthConfig configures session handling.
type AuthConfig struct {
	SessionTTLHours int `yaml:"session_ttl_hours" mapstructure:"session_ttl_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "research.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reader.base_url", "https://r.jina.ai")
	v.SetDefault("reader.rate_limit", 5.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("research.max_followups", 3)
	v.SetDefault("research.question_timeout_secs", 30)
	v.SetDefault("research.analysis_timeout_secs", 120)
	v.SetDefault("research.extract_timeout_secs", 30)
	v.SetDefault("research.max_concurrent", 8)
	v.SetDefault("research.estimate_base_secs", 60)
	v.SetDefault("research.estimate_per_inflight_secs", 15)
	v.SetDefault("research.stale_after_mins", 10)
	v.SetDefault("research.sweep_interval_secs", 60)
	v.SetDefault("auth.session_ttl_hours", 168)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given run mode and returns
// an aggregated error listing everything missing or out of range.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Research.MaxConcurrent < 1 || c.Research.MaxConcurrent > 64 {
			problems = append(problems, "research.max_concurrent must be between 1 and 64")
		}
		if c.Research.MaxFollowups < 0 || c.Research.MaxFollowups > 3 {
			problems = append(problems, "research.max_followups must be between 0 and 3")
		}
	case "migrate", "sweep", "requests":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
