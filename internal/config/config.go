// Package config loads vista configuration with Viper from a config file
// (.vista.yml by default), VISTA_ environment variables and command-line
// flags, applies defaults and validates the result.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/logging"
)

type Config struct {
	Views    ViewsConfig    `mapstructure:"views" yaml:"views"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Settings SettingsConfig `mapstructure:"settings" yaml:"settings"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ViewsConfig struct {
	BaseDir         string `mapstructure:"base_dir" yaml:"base_dir"`
	CacheDir        string `mapstructure:"cache_dir" yaml:"cache_dir"`
	Extension       string `mapstructure:"extension" yaml:"extension"`
	DefaultTemplate string `mapstructure:"default_template" yaml:"default_template"`
	Charset         string `mapstructure:"charset" yaml:"charset"`
}

type CacheConfig struct {
	Codec         string `mapstructure:"codec" yaml:"codec"`
	MemoryEntries int    `mapstructure:"memory_entries" yaml:"memory_entries"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	LiveReload bool   `mapstructure:"live_reload" yaml:"live_reload"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type SettingsConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults keyed by their viper path.
var Defaults = map[string]interface{}{
	"views.base_dir":         "views",
	"views.cache_dir":        "views/cache",
	"views.extension":        ".html",
	"views.default_template": "base",
	"views.charset":          "UTF-8",
	"cache.codec":            "json",
	"cache.memory_entries":   256,
	"server.host":            "localhost",
	"server.port":            8080,
	"server.data_dir":        "data",
	"server.live_reload":     true,
	"watch.debounce":         100 * time.Millisecond,
	"settings.dir":           "conf",
	"settings.environment":   "development",
	"log.level":              "info",
	"log.format":             "text",
}

// SetDefaults registers Defaults with the global viper instance.
func SetDefaults() {
	for key, value := range Defaults {
		viper.SetDefault(key, value)
	}
}

// Load builds a Config from the global viper instance and validates it.
func Load() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, configError("cannot decode configuration", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, configError("invalid configuration", err)
	}

	return &config, nil
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func configError(msg string, cause error) error {
	err := verrors.NewConfigError(verrors.CodeInvalidConfig, msg)
	err.Cause = cause
	return err
}

// LoggerConfig returns the logging configuration described by c.
func (c *Config) LoggerConfig() (*logging.LoggerConfig, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.Log.Format
	return cfg, nil
}
