package main

import (
	"encoding/json"

	"github.com/artpar/hyperchannels/domain/model"
	"github.com/spf13/cobra"
)

var (
	decodeSerializer string
	decodeField      string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <value>",
	Short: "Resolve a reference to the record it points to",
	Long: `Resolve a reference and print the record it points to.

The value is JSON: a full reference, or with --serializer and --field a
bare primary key or lookup object interpreted by that field's config.

Examples:
  hyperchannels decode '{"stream":"users","payload":{"action":"retrieve","pk":7}}'
  hyperchannels decode --serializer profiles --field team 1`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeSerializer, "serializer", "", "serializer whose field config applies")
	decodeCmd.Flags().StringVar(&decodeField, "field", "", "field of the serializer")
}

func runDecode(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	obj, err := a.Service.Decode(cmd.Context(), decodeSerializer, decodeField, json.RawMessage(args[0]))
	if err != nil {
		return err
	}
	return printJSON(cmd, model.Dehydrate(obj))
}
