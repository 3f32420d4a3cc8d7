package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 int           `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DBPath               string        `mapstructure:"DB_PATH"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	LogFormat            string        `mapstructure:"LOG_FORMAT"`
	RequirePaymentMethod bool          `mapstructure:"REQUIRE_PAYMENT_METHOD"`
	SweepEnabled         bool          `mapstructure:"SWEEP_ENABLED"`
	SweepInterval        time.Duration `mapstructure:"SWEEP_INTERVAL"`
	StoreTimeout         time.Duration `mapstructure:"STORE_TIMEOUT"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT",
	"REQUIRE_PAYMENT_METHOD", "SWEEP_ENABLED", "SWEEP_INTERVAL",
	"STORE_TIMEOUT", "CORS_ORIGINS",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_PATH", "ledger.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("REQUIRE_PAYMENT_METHOD", true)
	v.SetDefault("SWEEP_ENABLED", true)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated env values may arrive as one element or untrimmed.
	cfg.CORSOrigins = splitTrim(strings.Join(cfg.CORSOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"console\" or \"json\", got %q", c.LogFormat)
	}
	if c.SweepEnabled && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive when SWEEP_ENABLED is true")
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("STORE_TIMEOUT must not be negative")
	}
	return nil
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
