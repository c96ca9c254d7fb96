package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <stream> <pk>",
	Short: "Render one record with its references",
	Long: `Render the record with the given primary key using the stream's
serializer. Relations are printed as references.

Examples:
  hyperchannels encode users 7`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	doc, err := a.Service.Render(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd, doc)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
