package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vista/internal/config"
	"github.com/conneroisu/vista/internal/engine"
	"github.com/conneroisu/vista/internal/logging"
	"github.com/conneroisu/vista/internal/program"
)

// app is the configured engine shared by the template commands.
type app struct {
	cfg    *config.Config
	logger logging.Logger
	engine *engine.Engine
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := cfg.LoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(logCfg)

	codec, err := program.CodecFor(cfg.Cache.Codec)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		BaseDir:         cfg.Views.BaseDir,
		CacheDir:        cfg.Views.CacheDir,
		Extension:       cfg.Views.Extension,
		DefaultTemplate: cfg.Views.DefaultTemplate,
		Charset:         cfg.Views.Charset,
		Codec:           codec,
		MemoryEntries:   cfg.Cache.MemoryEntries,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, engine: eng}, nil
}
