package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vista/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Recompile templates as they change",
	Long: `Compile every template, then watch the views directory and recompile
templates as they are saved. Compile errors are reported and watching
continues.

Examples:
  vista watch
  vista watch --quiet`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchFlags *StandardFlags

func init() {
	rootCmd.AddCommand(watchCmd)
	watchFlags = AddStandardFlags(watchCmd, "output")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if n, err := a.engine.CompileAll(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Initial compile failed:\n%v\n", err)
	} else if !watchFlags.Quiet {
		fmt.Fprintf(out, "Compiled %s\n", pluralize(n, "template"))
	}

	fw, rc, err := newTemplateWatcher(a)
	if err != nil {
		return err
	}
	defer fw.Stop()

	rc.OnChange(func(_ context.Context, res watcher.Result) {
		if !watchFlags.Quiet {
			reportResult(out, res)
		}
	})

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", a.cfg.Views.BaseDir)

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping file watcher")
	return nil
}

// newTemplateWatcher watches the views tree, skipping the cache directory
// and hidden directories, and recompiles changed templates.
func newTemplateWatcher(a *app) (*watcher.FileWatcher, *watcher.Recompiler, error) {
	fw, err := watcher.NewFileWatcher(a.cfg.Watch.Debounce, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	fw.AddFilter(watcher.ExtensionFilter(a.cfg.Views.Extension))
	fw.AddFilter(watcher.ExcludeDirFilter(a.cfg.Views.CacheDir))
	fw.AddFilter(watcher.NoHiddenFilter)

	rc := watcher.NewRecompiler(a.engine, a.engine.Loader().NameFor, a.logger)
	fw.AddHandler(rc.Handle)

	cacheDir, err := filepath.Abs(a.cfg.Views.CacheDir)
	if err != nil {
		_ = fw.Stop()
		return nil, nil, err
	}
	skip := func(dir string) bool {
		abs, err := filepath.Abs(dir)
		return (err == nil && abs == cacheDir) || strings.HasPrefix(filepath.Base(dir), ".")
	}
	if err := fw.AddRecursive(a.cfg.Views.BaseDir, skip); err != nil {
		_ = fw.Stop()
		return nil, nil, fmt.Errorf("failed to watch %s: %w", a.cfg.Views.BaseDir, err)
	}
	return fw, rc, nil
}

func reportResult(w io.Writer, res watcher.Result) {
	for _, name := range res.Compiled {
		fmt.Fprintf(w, "compiled %s\n", name)
	}
	for _, name := range res.Removed {
		fmt.Fprintf(w, "removed  %s\n", name)
	}
	failed := make([]string, 0, len(res.Failed))
	for name := range res.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Fprintf(w, "failed   %s: %v\n", name, res.Failed[name])
	}
}
