package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/vista/internal/loader"
	"github.com/conneroisu/vista/internal/logging"
	"github.com/conneroisu/vista/internal/program"
)

var (
	dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	envPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateViewsConfig(&config.Views); err != nil {
		return fmt.Errorf("views config: %w", err)
	}
	if err := validateCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: negative debounce %s", config.Watch.Debounce)
	}
	if err := validateSettingsConfig(&config.Settings); err != nil {
		return fmt.Errorf("settings config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func validateViewsConfig(config *ViewsConfig) error {
	if err := validatePath(config.BaseDir); err != nil {
		return fmt.Errorf("invalid base_dir '%s': %w", config.BaseDir, err)
	}
	if err := validatePath(config.CacheDir); err != nil {
		return fmt.Errorf("invalid cache_dir '%s': %w", config.CacheDir, err)
	}
	if config.Extension == "" || strings.ContainsAny(config.Extension, `/\`) {
		return fmt.Errorf("invalid extension %q", config.Extension)
	}
	if err := loader.ValidateName(config.DefaultTemplate); err != nil {
		return fmt.Errorf("invalid default_template %q: %w", config.DefaultTemplate, err)
	}
	if strings.TrimSpace(config.Charset) == "" {
		return fmt.Errorf("charset is empty")
	}
	return nil
}

func validateCacheConfig(config *CacheConfig) error {
	if _, err := program.CodecFor(config.Codec); err != nil {
		return err
	}
	if config.MemoryEntries < -1 {
		return fmt.Errorf("memory_entries %d must be -1 (disabled) or more", config.MemoryEntries)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	for _, char := range append(dangerousChars, "\\") {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	if err := validatePath(config.DataDir); err != nil {
		return fmt.Errorf("invalid data_dir '%s': %w", config.DataDir, err)
	}
	return nil
}

func validateSettingsConfig(config *SettingsConfig) error {
	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("invalid dir '%s': %w", config.Dir, err)
	}
	if !envPattern.MatchString(config.Environment) {
		return fmt.Errorf("invalid environment %q", config.Environment)
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown log format %q (want text or json)", config.Format)
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	for _, seg := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if seg == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
