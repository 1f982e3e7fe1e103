package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	notifyOld      float64
	notifyNew      float64
	notifyCurrency string
	notifyURL      string
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test <chat-id>",
	Short: "Send a simulated price change through the configured channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if notifyOld <= 0 || notifyNew <= 0 {
			return errors.New("--old and --new must be greater than zero")
		}
		return getApp().NotifyTest(cmd.Context(), app.NotifyTestOptions{
			ChatID:   args[0],
			Old:      decimal.NewFromFloat(notifyOld),
			New:      decimal.NewFromFloat(notifyNew),
			Currency: notifyCurrency,
			URL:      notifyURL,
		})
	},
}

func init() {
	notifyTestCmd.Flags().Float64Var(&notifyOld, "old", 49.99, "Previous price")
	notifyTestCmd.Flags().Float64Var(&notifyNew, "new", 44.99, "New price")
	notifyTestCmd.Flags().StringVar(&notifyCurrency, "currency", "EUR", "ISO currency code")
	notifyTestCmd.Flags().StringVar(&notifyURL, "url", "https://www.amazon.nl/", "Product link shown in the message")
}
