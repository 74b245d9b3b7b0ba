package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the switchboard orchestrator.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	// AllowPrivateAgents permits agent URLs that resolve to private or
	// loopback addresses. Development only.
	AllowPrivateAgents bool `mapstructure:"allow_private_agents"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// QuotaConfig declares per-caller daily allowances.
type QuotaConfig struct {
	UserDailyLimit  int64  `mapstructure:"user_daily_limit"`
	GuestDailyLimit int64  `mapstructure:"guest_daily_limit"`
	Backend         string `mapstructure:"backend"` // redis, postgres or memory
	PruneCron       string `mapstructure:"prune_cron"`
}

func (q QuotaConfig) Validate() error {
	if q.UserDailyLimit <= 0 {
		return fmt.Errorf("quota.user_daily_limit must be > 0")
	}
	if q.GuestDailyLimit <= 0 {
		return fmt.Errorf("quota.guest_daily_limit must be > 0")
	}
	switch q.Backend {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("quota.backend must be redis, postgres or memory")
	}
	return nil
}

// DispatchConfig bounds the concurrent fan-out to registered agents.
type DispatchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

func (d DispatchConfig) Validate() error {
	if d.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be > 0")
	}
	if d.MaxConcurrent <= 0 {
		return fmt.Errorf("dispatch.max_concurrent must be > 0")
	}
	return nil
}

// SigningConfig controls the envelope signer for outbound agent calls.
type SigningConfig struct {
	Secret   string        `mapstructure:"secret"`
	IssuerID string        `mapstructure:"issuer_id"`
	MaxSkew  time.Duration `mapstructure:"max_skew"`
}

func (s SigningConfig) Validate() error {
	if s.Secret == "" {
		return fmt.Errorf("signing.secret must be configured")
	}
	if s.MaxSkew <= 0 {
		return fmt.Errorf("signing.max_skew must be > 0")
	}
	return nil
}

// ProvidersConfig holds external LLM collaborator settings.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig represents the OpenAI-compatible completion provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// DatabasesConfig groups storage backends.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the Postgres connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres DSN, preferring the explicit URL when set.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the Redis connection used by the quota ledger and
// maintenance locks.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks the sections the engine depends on.
func (c *Config) Validate() error {
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	return c.Signing.Validate()
}

// LoadConfig loads config from file with SWITCHBOARD_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":10010")
	viper.SetDefault("quota.user_daily_limit", 5)
	viper.SetDefault("quota.guest_daily_limit", 1)
	viper.SetDefault("quota.backend", "redis")
	viper.SetDefault("quota.prune_cron", "@daily")
	viper.SetDefault("dispatch.timeout", 5*time.Second)
	viper.SetDefault("dispatch.max_concurrent", 8)
	viper.SetDefault("signing.max_skew", 2*time.Minute)
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.timeout", 30*time.Second)
	viper.SetDefault("databases.redis.timeout", 5*time.Second)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SWITCHBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("config: read failed: %v", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("config: unmarshal failed: %v", err)
	}
	return &cfg
}
