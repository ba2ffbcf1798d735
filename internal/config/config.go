// Package config loads the server configuration from defaults, an optional
// YAML file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path" env:"DATABASE_PATH"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret   string  `yaml:"jwt_secret" env:"JWT_SECRET"`
		BcryptCost  int     `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
		SessionTTL  string  `yaml:"session_ttl" env:"SESSION_TTL"`
		SignInRate  float64 `yaml:"signin_rate" env:"SIGNIN_RATE"`
		SignInBurst float64 `yaml:"signin_burst" env:"SIGNIN_BURST"`
		// CookieSecure marks the session cookie Secure. Disable only for local
		// development over plain HTTP.
		CookieSecure bool `yaml:"cookie_secure" env:"COOKIE_SECURE"`
	} `yaml:"auth"`

	Logging struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"logging"`
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("load from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env into the environment when ECOLE_ENV is unset or
// "development". Variables already set are kept.
func LoadDotEnv() error {
	env := os.Getenv("ECOLE_ENV")
	if env != "" && env != "development" {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	slog.Debug(".env loaded")
	return nil
}

func setDefaults(cfg *Config) {
	cfg.Server.Port = "8080"
	cfg.Database.Path = "ecole.db"
	cfg.Auth.BcryptCost = 12
	cfg.Auth.SessionTTL = "24h"
	cfg.Auth.SignInRate = 0.2
	cfg.Auth.SignInBurst = 5
	cfg.Auth.CookieSecure = true
	cfg.Logging.Level = "info"
}

// Validate checks the values that cannot be corrected with a default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters for HMAC-SHA256 security")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost must be between 4 and 14, got %d", c.Auth.BcryptCost)
	}
	ttl, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("invalid session ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	if c.Auth.SignInRate < 0 || c.Auth.SignInBurst < 1 {
		return fmt.Errorf("sign-in rate must be >= 0 and burst >= 1, got %g/%g", c.Auth.SignInRate, c.Auth.SignInBurst)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// SessionDuration returns the parsed session lifetime.
func (c *Config) SessionDuration() time.Duration {
	d, _ := time.ParseDuration(c.Auth.SessionTTL)
	return d
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	return level, nil
}

// applyEnv walks v and overrides every field with an env tag whose variable
// is set.
func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}

		key := sf.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(raw)
		case reflect.Int:
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			field.SetInt(int64(n))
		case reflect.Float64:
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			field.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("%s: unsupported field kind %s", key, field.Kind())
		}
	}
	return nil
}
