package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vista/internal/program"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Show the compiled directives of a template",
	Long: `Compile a template if needed and print its directive list: one row per
node with its source line, kind and arguments. Block openers show the index
of their matching end.

Examples:
  vista inspect index
  vista inspect index --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectFlags *StandardFlags

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectFlags = AddStandardFlags(inspectCmd, "output")
}

func runInspect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	prog, err := a.engine.Compile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	paths, err := a.engine.Resolve(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectFlags.Format != FormatText {
		return writeStructured(out, inspectFlags.Format, prog)
	}

	fmt.Fprintf(out, "template: %s (%s)\n", paths.Name, paths.Source)
	fmt.Fprintf(out, "artifact: %s\n", paths.Cache)
	fmt.Fprintf(out, "format:   v%d, source %s\n\n", prog.Version, prog.SourceHash)
	return writeListing(out, prog)
}

func writeListing(out io.Writer, prog *program.Program) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tLINE\tKIND\tDETAIL")
	for i, n := range prog.Nodes {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", i, n.Line, n.Kind, describe(n))
	}
	return w.Flush()
}

func describe(n program.Node) string {
	switch n.Kind {
	case program.KindText:
		text := n.Text
		if len(text) > 40 {
			text = text[:37] + "..."
		}
		return strconv.Quote(text)
	case program.KindPrint:
		if n.Mode != program.ModePipeline {
			return fmt.Sprintf("%s [%s]", n.Path, n.Mode)
		}
		calls := make([]string, 0, len(n.Pipeline)+1)
		calls = append(calls, n.Path.String())
		for _, c := range n.Pipeline {
			calls = append(calls, describeCall(c))
		}
		return strings.Join(calls, " | ")
	case program.KindForeach:
		return fmt.Sprintf("%s -> %d", n.Path, n.Jump)
	case program.KindIf:
		cond := n.Path.String()
		if n.Cond != nil && n.Cond.Op == program.OpEqual && n.Cond.Literal != nil {
			cond += " == " + n.Cond.Literal.String()
		}
		return fmt.Sprintf("%s -> %d", cond, n.Jump)
	default:
		return ""
	}
}

func describeCall(c program.Call) string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		switch {
		case a.Piped:
			args[i] = "%s"
		case a.Literal != nil:
			args[i] = a.Literal.String()
		}
	}
	return c.Filter + "(" + strings.Join(args, ", ") + ")"
}
