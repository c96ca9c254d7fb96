package main

import (
	"fmt"

	apihttp "github.com/artpar/hyperchannels/adapters/http"
	"github.com/spf13/cobra"
)

// Overridden with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "hyperchannels %s\n  commit: %s\n  built:  %s\n", version, commit, buildDate)
		return err
	},
}

func init() {
	// GET /version reports the same build.
	apihttp.BuildVersion = version
	rootCmd.AddCommand(versionCmd)
}
