package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/vista/internal/config"
	"github.com/conneroisu/vista/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write application settings",
	Long: `Manage the nested settings stored in <settings.dir>/app.<app>.<env>.yaml.
Keys are dotted paths. Values given to set are parsed as YAML, so true, 42
and [a, b] become a bool, a number and a list.

Examples:
  vista settings list --app user
  vista settings get User.login_methods --app user
  vista settings set User.login_methods '[password, github]' --app user
  vista settings delete User.legacy --app user --env production`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and save",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"rm"},
	Short:   "Remove one setting and save",
	Args:    cobra.ExactArgs(1),
	RunE:    runSettingsDelete,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting",
	Args:  cobra.NoArgs,
	RunE:  runSettingsList,
}

var (
	settingsApp       string
	settingsEnv       string
	settingsListFlags *StandardFlags
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsDeleteCmd, settingsListCmd)

	settingsCmd.PersistentFlags().StringVarP(&settingsApp, "app", "a", "vista", "Application name")
	settingsCmd.PersistentFlags().StringVarP(&settingsEnv, "env", "e", "", "Environment (default settings.environment)")
	settingsListFlags = AddStandardFlags(settingsListCmd, "output")
}

func openSettings() (*settings.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	env := settingsEnv
	if env == "" {
		env = cfg.Settings.Environment
	}
	return settings.Open(cfg.Settings.Dir, settingsApp, env)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	v, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("setting %s is not set in %s", args[0], store.Path())
	}
	return printSetting(cmd, v)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}

	var value interface{}
	if err := yaml.Unmarshal([]byte(args[1]), &value); err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	if err := store.Set(args[0], value); err != nil {
		return err
	}
	if err := store.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s in %s\n", args[0], store.Path())
	return nil
}

func runSettingsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	if !store.Delete(args[0]) {
		return fmt.Errorf("setting %s is not set in %s", args[0], store.Path())
	}
	if err := store.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", args[0], store.Path())
	return nil
}

func runSettingsList(cmd *cobra.Command, _ []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}

	keys := store.Keys()
	if settingsListFlags.Format != FormatText {
		flat := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			flat[k], _ = store.Get(k)
		}
		return writeStructured(cmd.OutOrStdout(), settingsListFlags.Format, flat)
	}

	for _, k := range keys {
		v, _ := store.Get(k)
		line, err := inlineYAML(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, line)
	}
	return nil
}

func printSetting(cmd *cobra.Command, v interface{}) error {
	if s, ok := v.(string); ok {
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// inlineYAML renders v on one line using YAML flow style.
func inlineYAML(v interface{}) (string, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return "", err
	}
	setFlow(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(trimNewline(out)), nil
}

func setFlow(n *yaml.Node) {
	if n.Kind == yaml.SequenceNode || n.Kind == yaml.MappingNode {
		n.Style = yaml.FlowStyle
	}
	for _, c := range n.Content {
		setFlow(c)
	}
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	return b
}
