package main

import (
	"fmt"
	"io"
	"os"

	"github.com/artpar/hyperchannels/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hyperchannels",
	Short: "Hypermedia reference resolution between typed record streams",
	Long: `Hyperchannels renders records as documents whose relations are
references into other streams, and resolves those references back into
records.

Quick start:
  hyperchannels validate                 # Check the configuration
  hyperchannels serve                    # Start the HTTP server

Inspection:
  hyperchannels streams                  # List the stream registry
  hyperchannels encode users 7           # Render one record
  hyperchannels decode '{"stream":"users","payload":{"action":"retrieve","pk":7}}'`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", bootstrap.DefaultConfigPath, "config file path")
}

// openApp builds the application for one-shot commands: no watchers, logs
// on stderr.
func openApp(logs io.Writer) (*bootstrap.App, error) {
	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath:   cfgFile,
		DisableWatch: true,
		LogOutput:    logs,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}
