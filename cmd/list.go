package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l", "ls"},
	Short:   "List templates and the state of their artifacts",
	Long: `List every template under the views directory with its artifact path
and whether the artifact is fresh, stale or missing.

Examples:
  vista list
  vista list --format json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var listFlags *StandardFlags

func init() {
	rootCmd.AddCommand(listCmd)
	listFlags = AddStandardFlags(listCmd, "output")
}

// Artifact states reported by list.
const (
	statusFresh   = "fresh"
	statusStale   = "stale"
	statusMissing = "missing"
)

type templateStatus struct {
	Name     string     `json:"name"`
	Source   string     `json:"source"`
	Artifact string     `json:"artifact"`
	Status   string     `json:"status"`
	Compiled *time.Time `json:"compiled,omitempty"`
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ldr := a.engine.Loader()

	names, err := ldr.Names()
	if err != nil {
		return err
	}

	statuses := make([]templateStatus, 0, len(names))
	for _, name := range names {
		paths, err := ldr.Resolve(name)
		if err != nil {
			return err
		}
		st := templateStatus{Name: name, Source: paths.Source, Artifact: paths.Cache, Status: statusFresh}

		stale, err := ldr.IsStale(paths)
		if err != nil {
			return err
		}
		if modTime, err := ldr.ArtifactModTime(paths); err == nil {
			st.Compiled = &modTime
			if stale {
				st.Status = statusStale
			}
		} else {
			st.Status = statusMissing
		}
		statuses = append(statuses, st)
	}

	out := cmd.OutOrStdout()
	if listFlags.Format != FormatText {
		return writeStructured(out, listFlags.Format, statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintf(out, "No templates found in %s\n", a.cfg.Views.BaseDir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCOMPILED\tARTIFACT")
	for _, st := range statuses {
		compiled := "-"
		if st.Compiled != nil {
			compiled = humanize.Time(*st.Compiled)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Status, compiled, st.Artifact)
	}
	return w.Flush()
}
