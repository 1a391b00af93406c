package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nc-ai-qqbot-go/internal/models"
)

type Config struct {
	Bot        BotConfig                       `mapstructure:"bot"`
	AI         AIConfig                        `mapstructure:"ai"`
	Rate       RateConfig                      `mapstructure:"rate"`
	Access     AccessConfig                    `mapstructure:"access"`
	Groups     map[string]models.GroupSettings `mapstructure:"groups"`
	Storage    StorageConfig                   `mapstructure:"storage"`
	Logging    LoggingConfig                   `mapstructure:"logging"`
	Monitoring MonitoringConfig                `mapstructure:"monitoring"`
	I18n       I18nConfig                      `mapstructure:"i18n"`
}

type BotConfig struct {
	WSUrl             string `mapstructure:"ws_url"`
	AccessToken       string `mapstructure:"access_token"`
	ReconnectInterval int    `mapstructure:"reconnect_interval"`
	CommandPrefix     string `mapstructure:"command_prefix"`
}

type AIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	SystemPrompt      string  `mapstructure:"system_prompt"`
	ContextLength     int     `mapstructure:"context_length"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Timeout           int     `mapstructure:"timeout"`
}

type RateConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	PerMinute       int `mapstructure:"per_minute"`
}

type AccessConfig struct {
	Admins    []string `mapstructure:"admins"`
	Blacklist []string `mapstructure:"blacklist"`
	Patterns  []string `mapstructure:"patterns"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

const (
	minContextLength = 2
	maxContextLength = 30

	defaultCommandPrefix = "#bot"
	defaultModel         = "gpt-3.5-turbo"
	defaultContextLength = 10
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("bot.ws_url", "ONEBOT_WS_URL")
	viper.BindEnv("bot.access_token", "ONEBOT_ACCESS_TOKEN")
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Sanitize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Sanitize applies defaults to unset or mistyped fields. Unknown values
// silently fall back to their defaults; this is a contract (WebUI and
// hand-edited configs both feed this), not incidental coercion.
func Sanitize(cfg *Config) {
	if strings.TrimSpace(cfg.Bot.CommandPrefix) == "" {
		cfg.Bot.CommandPrefix = defaultCommandPrefix
	}
	if cfg.Bot.ReconnectInterval <= 0 {
		cfg.Bot.ReconnectInterval = 5
	}

	if strings.TrimSpace(cfg.AI.Model) == "" {
		cfg.AI.Model = defaultModel
	}
	if cfg.AI.ContextLength == 0 {
		cfg.AI.ContextLength = defaultContextLength
	}
	if cfg.AI.ContextLength < minContextLength {
		cfg.AI.ContextLength = minContextLength
	}
	if cfg.AI.ContextLength > maxContextLength {
		cfg.AI.ContextLength = maxContextLength
	}
	if cfg.AI.RequestsPerSecond <= 0 {
		cfg.AI.RequestsPerSecond = 2
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}

	if cfg.Rate.PerMinute == 0 {
		cfg.Rate.PerMinute = -1
	}

	cfg.Access.Admins = normalizeList(cfg.Access.Admins)
	cfg.Access.Blacklist = normalizeList(cfg.Access.Blacklist)
	cfg.Access.Patterns = normalizeList(cfg.Access.Patterns)

	if cfg.Groups == nil {
		cfg.Groups = make(map[string]models.GroupSettings)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.Memory.DefaultExpiration <= 0 {
		cfg.Storage.Memory.DefaultExpiration = 24 * time.Hour
	}
	if cfg.Storage.Memory.CleanupInterval <= 0 {
		cfg.Storage.Memory.CleanupInterval = time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Monitoring.Metrics.Path == "" {
		cfg.Monitoring.Metrics.Path = "/metrics"
	}
	if cfg.Monitoring.Metrics.Port == 0 {
		cfg.Monitoring.Metrics.Port = 9090
	}

	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "zh-CN"
	}
	if len(cfg.I18n.Languages) == 0 {
		cfg.I18n.Languages = []string{"zh-CN", "en"}
	}
}

// normalizeList trims entries and additionally accepts a single
// comma-separated string as an alternate encoding for a list field.
func normalizeList(items []string) []string {
	if len(items) == 1 && strings.Contains(items[0], ",") {
		items = strings.Split(items[0], ",")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.WSUrl == "" {
		return fmt.Errorf("onebot ws_url is required")
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	return nil
}

// CompilePatterns validates the configured filter patterns once at load.
// Invalid patterns are returned separately so the caller can log and drop
// them instead of failing startup.
func CompilePatterns(patterns []string) (compiled []*regexp.Regexp, invalid []string) {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			invalid = append(invalid, p)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, invalid
}
