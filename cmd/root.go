// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netsensor/internal/config"
	"firestige.xyz/netsensor/internal/log"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netsensor",
	Short: "netsensor - passive network sensor",
	Long: `netsensor is a passive network sensor. It captures frames on one or more
interfaces and keeps per-interface tables of microflow traffic, host topology,
ICMP messages and TCP round-trip times, delivering periodic snapshots to
collectors over UDP, NATS or Kafka.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netsensor/config.yml",
		"config file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig loads the config file and builds the logger it describes.
func loadConfig(path string) (*config.Config, *config.Accessor, log.Logger, error) {
	cfg, acc, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := log.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, acc, logger.WithField("node", cfg.Node), nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
