// Package poster implements the external posting clients behind the
// dispatcher's Poster interface.
package poster

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram posts alerts to a Telegram chat. Retries are the dispatcher's
// job; Post makes exactly one attempt.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram poster. Fails fast on a bad token or chat
// id so misconfiguration is caught at startup.
func NewTelegram(botToken, chatID string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	return &Telegram{bot: bot, chatID: chatIDInt}, nil
}

// Name identifies the poster in logs.
func (t *Telegram) Name() string { return "telegram" }

// Post sends the text as a plain message and returns the message id.
func (t *Telegram) Post(_ context.Context, text string) (string, error) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
