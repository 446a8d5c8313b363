package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"
)

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

var newBot = func(token string) (sender, error) {
	return tele.NewBot(tele.Settings{Token: token, Offline: true})
}

// TelegramNotifier sends operator alerts to a single chat. It never polls
// for updates.
type TelegramNotifier struct {
	bot    sender
	chatID tele.ChatID
	prefix string
}

// NewTelegramNotifier builds a send-only bot. prefix is prepended to every
// message so alerts from several deployments can be told apart.
func NewTelegramNotifier(token string, chatID int64, prefix string) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	b, err := newBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: tele.ChatID(chatID), prefix: prefix}, nil
}

// Notify sends message, giving up when ctx is already done.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.prefix != "" {
		message = n.prefix + " " + message
	}
	if _, err := n.bot.Send(n.chatID, message, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
