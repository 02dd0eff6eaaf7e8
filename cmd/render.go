package cmd

import (
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vista/internal/datafile"
)

var renderCmd = &cobra.Command{
	Use:     "render <name>",
	Aliases: []string{"r"},
	Short:   "Render a template to standard output",
	Long: `Render a template with data and write the result to standard output,
encoded in the configured charset. The artifact is recompiled first when the
template source is newer than the cached copy.

Data comes from --data, or from <data_dir>/<name>.{json,yaml,yml,toml} when
--data is not given. --set overrides top-level values.

Examples:
  vista render index
  vista render blog/post --data post.yaml
  vista render index --set title=Hello --set draft=true`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var renderFlags *StandardFlags

func init() {
	rootCmd.AddCommand(renderCmd)
	renderFlags = AddStandardFlags(renderCmd, "data")
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	name := args[0]

	data, err := renderData(a, name, renderFlags)
	if err != nil {
		return err
	}

	return a.engine.RenderTo(cmd.Context(), cmd.OutOrStdout(), name, data)
}

// renderData loads the data file for a render and applies --set overrides.
// Override values are parsed as bools or numbers when they look like one.
func renderData(a *app, name string, flags *StandardFlags) (map[string]interface{}, error) {
	var data map[string]interface{}
	var err error
	if flags.DataFile != "" {
		data, err = datafile.Load(flags.DataFile)
	} else {
		data, err = datafile.LoadFor(a.cfg.Server.DataDir, name)
	}
	if err != nil {
		return nil, err
	}

	for key, raw := range flags.Set {
		data[key] = scalar(raw)
	}
	return data, nil
}

func scalar(raw string) interface{} {
	switch raw {
	case "true", "false":
		return raw == "true"
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return raw
}
