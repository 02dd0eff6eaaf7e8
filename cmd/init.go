package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/vista/internal/config"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Create a views directory, starter templates and .vista.yml",
	Long: `Initialize a vista project in dir (default: the current directory).
Existing files are never overwritten.

Created:
  .vista.yml            configuration with every default spelled out
  views/base.html       fallback template for unknown names
  views/index.html      example page
  data/index.yaml       data for the example page`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initMinimal bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Only create .vista.yml and views/base.html")
}

const baseTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>vista</title>
</head>
<body>
  <p>There is no template for this page yet.</p>
</body>
</html>
`

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{ title }}</title>
</head>
<body>
  <h1>{{ title }}</h1>
  <ul>
  {% foreach pages %}
    <li>{{ loop_index }}: {{ loop_value|title }}</li>
  {% end %}
  </ul>
  {% if updated %}<p>Updated {{ updated|date('%B %d, %Y') }}</p>{% end %}
</body>
</html>
`

const indexData = `title: Welcome
pages:
  - getting started
  - templates
  - filters
updated: 2024-01-15
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	cfg := defaultConfig()
	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	files := []struct {
		path string
		body string
	}{
		{".vista.yml", string(cfgYAML)},
		{filepath.Join(cfg.Views.BaseDir, cfg.Views.DefaultTemplate+cfg.Views.Extension), baseTemplate},
	}
	if !initMinimal {
		files = append(files,
			struct{ path, body string }{filepath.Join(cfg.Views.BaseDir, "index"+cfg.Views.Extension), indexTemplate},
			struct{ path, body string }{filepath.Join(cfg.Server.DataDir, "index.yaml"), indexData},
		)
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		p := filepath.Join(dir, f.path)
		created, err := writeNew(p, f.body)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "created  %s\n", p)
		} else {
			fmt.Fprintf(out, "exists   %s\n", p)
		}
	}
	return nil
}

// defaultConfig is the configuration every default produces.
func defaultConfig() config.Config {
	d := config.Defaults
	return config.Config{
		Views: config.ViewsConfig{
			BaseDir:         d["views.base_dir"].(string),
			CacheDir:        d["views.cache_dir"].(string),
			Extension:       d["views.extension"].(string),
			DefaultTemplate: d["views.default_template"].(string),
			Charset:         d["views.charset"].(string),
		},
		Cache: config.CacheConfig{
			Codec:         d["cache.codec"].(string),
			MemoryEntries: d["cache.memory_entries"].(int),
		},
		Server: config.ServerConfig{
			Host:       d["server.host"].(string),
			Port:       d["server.port"].(int),
			DataDir:    d["server.data_dir"].(string),
			LiveReload: d["server.live_reload"].(bool),
		},
		Watch: config.WatchConfig{Debounce: d["watch.debounce"].(time.Duration)},
		Settings: config.SettingsConfig{
			Dir:         d["settings.dir"].(string),
			Environment: d["settings.environment"].(string),
		},
		Log: config.LogConfig{
			Level:  d["log.level"].(string),
			Format: d["log.format"].(string),
		},
	}
}

// writeNew creates p with body unless it already exists.
func writeNew(p, body string) (bool, error) {
	if _, err := os.Stat(p); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", p, err)
	}
	return true, nil
}
