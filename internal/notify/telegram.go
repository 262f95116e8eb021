package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers notifications to a single Telegram chat.
// Send-only: no poller is attached, the bot never consumes updates.
type TelegramSender struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	_, err := t.bot.Send(tele.ChatID(t.chatID), text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

var _ Sender = (*TelegramSender)(nil)
