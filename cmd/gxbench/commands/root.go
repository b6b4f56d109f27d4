package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/gx"
	"github.com/gogpu/gx/backend"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gxbench",
	Short: "Stress the gx command-recording core",
	Long: `gxbench drives concurrent command contexts against a gx backend.

Each frame, every worker takes a compute context from a shared pool,
records dispatches with barriers, constants and descriptor tables,
and submits it. Frames are paced over the shader-visible heap segments.

Settings come from flags, GXBENCH_* environment variables and an
optional config file (YAML or TOML).`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if verbose {
			l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			gx.SetLogger(l)
			backend.SetLogger(l)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gxbench.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log gx debug output to stderr")
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("gxbench")
	}

	viper.SetEnvPrefix("GXBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		os.Exit(1)
	}
}
