package main

import (
	"fmt"
	"os"

	"github.com/artpar/hyperchannels/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the hyperchannels HTTP server.

The server will:
  - Load configuration from hyperchannels.yaml (or --config)
  - Open the SQLite database when a stream or the decode audit needs it
  - Seed the configured records
  - Reload the stream registry when the file changes or on SIGHUP

Environment variables override the file:
  HYPERCHANNELS_SERVER_HOST     - Server host (default: 0.0.0.0)
  HYPERCHANNELS_SERVER_PORT     - Server port (default: 8080)
  HYPERCHANNELS_DATABASE_DSN    - Database path (default: hyperchannels.db)
  HYPERCHANNELS_DATABASE_AUDIT  - Record decodes in the database
  HYPERCHANNELS_LOG_LEVEL       - Log level: debug, info, warn, error
  HYPERCHANNELS_METRICS_ENABLED - Serve Prometheus metrics

Examples:
  hyperchannels serve
  hyperchannels serve --config /etc/hyperchannels/config.yaml
  hyperchannels serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", cfgFile)
	}

	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath:   cfgFile,
		DisableWatch: !hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
