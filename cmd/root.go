package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/aggregation/config"
)

var (
	cfgFile string
	debug   bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "aggregation",
	Short: "GS1 aggregation service",
	Long: `Classifies decoded GS1 barcodes and aggregates product codes into
logistics units (SSCC) against a packing task.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then ./app.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() error {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	var err error
	cfg, err = config.LoadConfig(".")
	if err != nil {
		return err
	}

	configureLogging(cfg.Logging, cfg.Environment)
	return nil
}

// configureLogging sets the global zerolog level and output format
func configureLogging(logging config.LoggingConfig, environment string) {
	if logging.Format == "console" || environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(logging.Level))
	if err != nil || logging.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
