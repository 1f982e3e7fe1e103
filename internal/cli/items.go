package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var addCheck bool

var addCmd = &cobra.Command{
	Use:   "add <owner> <url>",
	Short: "Start tracking a product URL for an owner (Telegram chat id)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Add(cmd.Context(), app.AddOptions{
			Owner: args[0],
			URL:   args[1],
			Check: addCheck,
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list <owner>",
	Short: "List an owner's tracked items grouped by shop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().List(cmd.Context(), args[0])
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <owner> <item-id>",
	Short: "Stop tracking an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Remove(cmd.Context(), args[0], args[1])
	},
}

func init() {
	addCmd.Flags().BoolVar(&addCheck, "check", true, "Fetch the current price right away")
}
