package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	verrors "github.com/conneroisu/vista/internal/errors"
)

var compileCmd = &cobra.Command{
	Use:     "compile [names...]",
	Aliases: []string{"c"},
	Short:   "Compile templates into cached artifacts",
	Long: `Bring cached artifacts up to date. Templates whose artifact is newer than
the source are left alone. With no names every template under the views
directory is compiled.

Examples:
  vista compile                 # every template
  vista compile index blog/post # just these`,
	RunE: runCompile,
}

var compileFlags *StandardFlags

func init() {
	rootCmd.AddCommand(compileCmd)
	compileFlags = AddStandardFlags(compileCmd, "output")
}

func runCompile(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	start := time.Now()

	if len(args) == 0 {
		n, err := a.engine.CompileAll(ctx)
		if !compileFlags.Quiet {
			fmt.Fprintf(out, "Compiled %s in %s\n", pluralize(n, "template"), time.Since(start).Round(time.Millisecond))
		}
		return err
	}

	collector := verrors.NewCollector()
	for _, name := range args {
		prog, err := a.engine.Compile(ctx, name)
		if err != nil {
			collector.Add(name, err)
			continue
		}
		if compileFlags.Quiet {
			continue
		}
		paths, err := a.engine.Resolve(name)
		if err != nil {
			collector.Add(name, err)
			continue
		}
		size := "?"
		if info, err := os.Stat(paths.Cache); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(out, "%s -> %s (%s, %s)\n", paths.Name, paths.Cache, pluralize(len(prog.Nodes), "node"), size)
	}
	return collector.Err()
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
