package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/vista/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the preview server with live reload",
	Long: `Serve rendered templates over HTTP. GET /about renders the about template
with data from <data_dir>/about.{json,yaml,yml,toml}; GET / renders the
default template. With live reload enabled, pages reload in the browser
whenever a template is recompiled.

Examples:
  vista serve
  vista serve --port 3000 --host 0.0.0.0
  vista serve --no-reload`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveFlags *StandardFlags

func init() {
	rootCmd.AddCommand(serveCmd)
	serveFlags = AddStandardFlags(serveCmd, "server")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := SetViperBindings(cmd, map[string]string{
		"port": "server.port",
		"host": "server.host",
	}); err != nil {
		return err
	}
	if serveFlags.NoReload {
		viper.Set("server.live_reload", false)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.engine, server.Options{
		Addr:            a.cfg.Addr(),
		DataDir:         a.cfg.Server.DataDir,
		DefaultTemplate: a.cfg.Views.DefaultTemplate,
		Extension:       a.cfg.Views.Extension,
		LiveReload:      a.cfg.Server.LiveReload,
		Logger:          a.logger,
	})
	srv.SetStats(func() interface{} { return a.engine.Stats() })

	if a.cfg.Server.LiveReload {
		fw, rc, err := newTemplateWatcher(a)
		if err != nil {
			return err
		}
		defer fw.Stop()
		rc.OnChange(srv.Notify)
		if err := fw.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s\n", a.cfg.Views.BaseDir, a.cfg.Addr())
	return srv.Start(ctx)
}
