package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"b2b-reconciliation-engine/internal/parsers"

	"github.com/spf13/cobra"
)

// formatsCmd lists the predefined supplier export layouts.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported supplier export formats",
	Long: `Formats lists the predefined delivery note export layouts that can be
selected with the --supplier-format flag of the reconcile command.`,
	RunE: runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDELIMITER\tDATE FORMAT\tDESCRIPTION")
	for _, format := range parsers.ListSupplierFormats() {
		fmt.Fprintf(w, "%s\t%q\t%s\t%s\n",
			format.Name, format.Delimiter, format.DateFormat, format.Description)
	}
	return w.Flush()
}
