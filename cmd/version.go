package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vista/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the vista version, git commit, build time, Go version, platform
and the artifact format this binary reads and writes. Artifacts written by a
binary with another format are recompiled on first use.

Examples:
  vista version
  vista version --short
  vista version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

var (
	versionFlags *StandardFlags
	versionShort bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionFlags = AddStandardFlags(versionCmd, "output")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show the version only")
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch {
	case versionFlags.Format != FormatText:
		return writeStructured(out, versionFlags.Format, info)
	case versionShort:
		fmt.Fprintln(out, info.Short())
	default:
		fmt.Fprintln(out, info.String())
	}
	return nil
}
