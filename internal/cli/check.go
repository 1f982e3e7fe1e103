package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var checkItemID string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single check cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), app.CheckOptions{ItemID: checkItemID})
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkItemID, "item", "", "Check only this item id")
}
