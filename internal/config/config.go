package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Port           string `mapstructure:"PORT"`
	GinMode        string `mapstructure:"GIN_MODE"`
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AdminToken     string `mapstructure:"ADMIN_TOKEN"`
	AppBaseURL     string `mapstructure:"APP_BASE_URL"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	ReaperSchedule string        `mapstructure:"REAPER_SCHEDULE"`
	OrphanSchedule string        `mapstructure:"ORPHAN_SCHEDULE"`
	OrphanMinAge   time.Duration `mapstructure:"ORPHAN_MIN_AGE"`

	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
}

var defaults = map[string]any{
	"PORT":            "8080",
	"GIN_MODE":        "release",
	"DATABASE_DRIVER": "postgres",
	"DATABASE_URL":    "",
	"JWT_SECRET":      "",
	"ADMIN_TOKEN":     "",
	"APP_BASE_URL":    "",
	"LOG_LEVEL":       "info",
	"REAPER_SCHEDULE": "@hourly",
	"ORPHAN_SCHEDULE": "@daily",
	"ORPHAN_MIN_AGE":  "24h",
	"S3_ENDPOINT":     "",
	"S3_REGION":       "auto",
	"S3_BUCKET":       "",
	"S3_ACCESS_KEY":   "",
	"S3_SECRET_KEY":   "",
}

// LoadConfig loads the configuration from a .env file in dir and environment
// variables. Environment variables win over the file.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the settings the server cannot run without are present.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.OrphanMinAge < 0 {
		return errors.New("ORPHAN_MIN_AGE must not be negative")
	}
	return nil
}

// StorageEnabled reports whether attachment object storage is configured.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}
