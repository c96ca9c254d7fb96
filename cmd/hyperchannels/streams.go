package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List the stream registry",
	Long: `List the configured streams in registry order with the type each owns,
its record store and its allowed actions.`,
	RunE: runStreams,
}

func init() {
	rootCmd.AddCommand(streamsCmd)
}

func runStreams(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	snap := a.Service.Snapshot()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSTORE\tACTIONS")
	fmt.Fprintln(w, "----\t----\t-----\t-------")

	for _, d := range snap.Registry.Entries() {
		sc := snap.Streams[d.Name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.OwnedType, sc.Store, strings.Join(sc.ActionNames(), ","))
	}

	return w.Flush()
}
