package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/gs1"
)

var classifySymbology string

var classifyCmd = &cobra.Command{
	Use:   "classify CODE...",
	Short: "Classify raw barcode payloads",
	Long: `Prints the classification of each payload as JSON. The token <GS>
stands for the FNC1 separator.`,
	Args: cobra.MinimumNArgs(1),
	// classification needs no config or database
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		var sym gs1.Symbology
		if classifySymbology != "" {
			var err error
			if sym, err = gs1.ParseSymbologyName(classifySymbology); err != nil {
				return err
			}
		}

		codes := make([]classifier.ClassifiedCode, 0, len(args))
		for _, arg := range args {
			codes = append(codes, classifier.Classify(expandSeparators(arg), sym))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(codes)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifySymbology, "symbology", "", "symbology of the payloads (datamatrix, code128, qr, ean13)")
	rootCmd.AddCommand(classifyCmd)
}
