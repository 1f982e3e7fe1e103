package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramNotifier pushes messages through the Telegram Bot API. The item
// owner is used as the chat id.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Notify calls sendMessage. Failures come back as *DeliveryError.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Owner == "" {
		return &DeliveryError{Kind: DeliveryRejected, Detail: "notification has no owner chat id"}
	}

	payload := map[string]any{
		"chat_id":                  note.Owner,
		"text":                     Render(note),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Kind: DeliveryUnreachable, Err: err}
	}
	defer resp.Body.Close()

	var result telegramResponse
	_ = json.NewDecoder(resp.Body).Decode(&result)

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return &DeliveryError{Kind: DeliveryUnreachable, StatusCode: resp.StatusCode, Detail: result.Description}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &DeliveryError{Kind: DeliveryRejected, StatusCode: resp.StatusCode, Detail: result.Description}
	case !result.OK:
		return &DeliveryError{Kind: DeliveryRejected, StatusCode: resp.StatusCode, Detail: "telegram returned ok=false"}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("item_id", note.ItemID).
		Msg("notification delivered (Telegram)")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
