package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hyperops/ecopay-chat/internal/prompt"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

// UpstreamConfig describes the OpenAI-compatible completion endpoint.
// APIKey, when set in the config file, takes precedence over APIKeyEnv.
type UpstreamConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DefaultsConfig struct {
	Model        string  `mapstructure:"model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

const (
	DefaultAPIKeyEnv = "Chat_API"
	DefaultBaseURL   = "https://api.groq.com/openai/v1"
	DefaultModel     = "llama-3.1-8b-instant"

	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024

	EnvPrefix = "ECOPAY"
)

// BindEnvironment lets ECOPAY_<SECTION>_<KEY> variables override config keys.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// RegisterDefaults declares every config key with its built-in value.
// Unmarshal only consults the environment for keys viper already knows.
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("security.enable_cors", false)
	v.SetDefault("security.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "logs/ecopay-chat.log")
	v.SetDefault("logging.console_output", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", false)

	v.SetDefault("upstream.base_url", DefaultBaseURL)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.api_key_env", DefaultAPIKeyEnv)
	v.SetDefault("upstream.timeout", time.Duration(0))

	v.SetDefault("defaults.model", DefaultModel)
	v.SetDefault("defaults.temperature", DefaultTemperature)
	v.SetDefault("defaults.max_tokens", DefaultMaxTokens)
	v.SetDefault("defaults.system_prompt", prompt.EcopaySystemPrompt)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)
}

// Load loads the configuration from viper (file, env and bound flags)
func Load() (*Config, error) {
	var cfg Config

	RegisterDefaults(viper.GetViper())
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper already supplied the default temperature, so 0 here was set on purpose.
	temperature := cfg.Defaults.Temperature
	SetDefaults(&cfg)
	cfg.Defaults.Temperature = temperature

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// KeyFunc returns a function that resolves the upstream API key on every call.
// The environment is read lazily so a rotated secret is picked up without a restart.
func (u UpstreamConfig) KeyFunc() func() string {
	return func() string {
		if u.APIKey != "" {
			return u.APIKey
		}
		return os.Getenv(u.APIKeyEnv)
	}
}

// SetDefaults fills every unset field with its built-in value. It is meant for
// configs built in code, where a zero temperature cannot be told apart from unset.
func SetDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/ecopay-chat.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultBaseURL
	}
	if cfg.Upstream.APIKeyEnv == "" {
		cfg.Upstream.APIKeyEnv = DefaultAPIKeyEnv
	}

	if cfg.Defaults.Model == "" {
		cfg.Defaults.Model = DefaultModel
	}
	if cfg.Defaults.Temperature == 0 {
		cfg.Defaults.Temperature = DefaultTemperature
	}
	if cfg.Defaults.MaxTokens == 0 {
		cfg.Defaults.MaxTokens = DefaultMaxTokens
	}
	if strings.TrimSpace(cfg.Defaults.SystemPrompt) == "" {
		cfg.Defaults.SystemPrompt = prompt.EcopaySystemPrompt
	}

	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Defaults.Temperature < 0 || cfg.Defaults.Temperature > 2 {
		return fmt.Errorf("invalid temperature: %v", cfg.Defaults.Temperature)
	}
	if cfg.Defaults.MaxTokens < 1 {
		return fmt.Errorf("invalid max_tokens: %d", cfg.Defaults.MaxTokens)
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("invalid requests_per_minute: %d", cfg.RateLimit.RequestsPerMinute)
	}
	return nil
}
