package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConfigFileEnv names a config file to use when --config is not given.
const ConfigFileEnv = "VISTA_CONFIG_FILE"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vista",
	Short: "Compile and render cached HTML templates",
	Long: `vista compiles templates written with {{ value|filter }} interpolation and
{% foreach %} / {% if %} blocks into cached artifacts, recompiling them only
when the source changes, and renders them against JSON, YAML or TOML data.

Quick Start:
  vista init                      Create views/ and .vista.yml
  vista render index              Render views/index.html to stdout
  vista serve                     Preview server with live reload
  vista compile                   Precompile every template`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return SetViperBindings(cmd, map[string]string{
			"log-level": "log.level",
			"views":     "views.base_dir",
		})
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .vista.yml, can also use "+ConfigFileEnv+")")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("views", "views", "template directory")
}

// initConfig points viper at the config file and environment.
//
// A file named by --config wins over VISTA_CONFIG_FILE, which wins over
// .vista.yml in the working directory. A missing default file is silently
// ignored; any other read failure is printed and defaults are used.
func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv(ConfigFileEnv) != "":
		viper.SetConfigFile(os.Getenv(ConfigFileEnv))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vista")
	}

	viper.SetEnvPrefix("VISTA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Warning: cannot read config file:", err)
		}
	}
}
