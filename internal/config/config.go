// Package config loads process configuration for the fastlimit service.
//
// Values are resolved in three layers: built-in defaults, an optional dotenv
// file, then environment variables. The result is an explicit Config value
// handed to constructors; nothing here is global.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendTiered = "tiered"
)

// DefaultEnvFile is read when present in the working directory.
const DefaultEnvFile = ".env"

// Config holds everything needed to wire a limiter.
type Config struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory sqlite redis tiered"`
	RedisURL   string        `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	DBPath     string        `mapstructure:"db_path" validate:"required_if=Backend sqlite,required_if=Backend tiered"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	Limit      int64         `mapstructure:"limit" validate:"gt=0"`
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	ListenAddr string        `mapstructure:"listen_addr"`
	LogLevel   string        `mapstructure:"log_level"`
	FailOpen   bool          `mapstructure:"fail_open"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("mapstructure"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

var defaults = map[string]any{
	"backend":     BackendSQLite,
	"redis_url":   "redis://localhost:6379/0",
	"db_path":     "rtl.db",
	"key_prefix":  "rtl",
	"limit":       100,
	"interval":    "1m",
	"listen_addr": ":8080",
	"log_level":   "info",
	"fail_open":   false,
	"cache_ttl":   "1s",
}

// Load resolves the configuration. envFile may be empty to use DefaultEnvFile;
// a missing default file is not an error, a missing explicit file is.
func Load(envFile string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
		// AutomaticEnv only sees keys viper already knows, so bind each one.
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if err := readEnvFile(v, envFile, explicit); err != nil {
		return nil, err
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readEnvFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DBPath = strings.TrimSpace(c.DBPath)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return fmt.Errorf("config: %w", err)
	}
	e := errs[0]
	switch e.Tag() {
	case "required_if":
		return fmt.Errorf("config: %s is required for the %s backend", e.Field(), c.Backend)
	case "oneof":
		return fmt.Errorf("config: unsupported %s %q", e.Field(), e.Value())
	default:
		return fmt.Errorf("config: %s must be %s %s, got %v", e.Field(), e.Tag(), e.Param(), e.Value())
	}
}
