// Package notify delivers user-facing notifications about session
// state changes through the Telegram Bot API.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Notifier sends out-of-band messages to a user
type Notifier interface {
	// Send delivers plain text to the chat identified by userID
	Send(ctx context.Context, userID, text string) error

	// NotifyDisconnect tells a user their session ended and what to do
	NotifyDisconnect(ctx context.Context, userID string, statusCode int, reason, userAction string) error
}

// TelegramNotifier sends notifications through the Telegram Bot API
type TelegramNotifier struct {
	client *resty.Client
	token  string
}

// telegramResponse is the Bot API envelope
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram creates a Telegram notifier with the given request
// timeout
func NewTelegram(token string, timeout time.Duration) *TelegramNotifier {
	client := resty.New().
		SetBaseURL("https://api.telegram.org").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &TelegramNotifier{client: client, token: token}
}

// Send delivers plain text to the chat identified by userID
func (n *TelegramNotifier) Send(ctx context.Context, userID, text string) error {
	var result telegramResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":    userID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.token))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram api error: %s", result.Description)
	}
	return nil
}

// NotifyDisconnect tells a user their session ended and what to do
func (n *TelegramNotifier) NotifyDisconnect(ctx context.Context, userID string, statusCode int, reason, userAction string) error {
	text := fmt.Sprintf("⚠️ Your WhatsApp session was disconnected (%d): %s", statusCode, reason)
	if userAction != "" {
		text += "\n" + userAction
	}

	if err := n.Send(ctx, userID, text); err != nil {
		log.Warn().Err(err).
			Str("user_id", userID).
			Int("status_code", statusCode).
			Msg("Failed to deliver disconnect notification")
		return err
	}

	log.Info().
		Str("user_id", userID).
		Int("status_code", statusCode).
		Msg("Disconnect notification delivered")
	return nil
}

// NopNotifier drops notifications; used when no bot token is set
type NopNotifier struct{}

// Send implements Notifier
func (NopNotifier) Send(ctx context.Context, userID, text string) error { return nil }

// NotifyDisconnect implements Notifier
func (NopNotifier) NotifyDisconnect(ctx context.Context, userID string, statusCode int, reason, userAction string) error {
	log.Debug().
		Str("user_id", userID).
		Int("status_code", statusCode).
		Str("reason", reason).
		Msg("Notification skipped (no bot token configured)")
	return nil
}
