package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	exportCSVPath string
	exportOwner   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tracked items as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			CSVPath: exportCSVPath,
			Owner:   exportOwner,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "Only export this owner's items")
}
