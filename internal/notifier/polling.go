package notifier

import (
	"context"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CommandHandler is called when a user command is received and returns the
// plain-text reply.
type CommandHandler func(command string) string

// StartPolling long-polls Telegram for commands from the configured chat.
// Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.Bot.GetUpdatesChan(cfg)
	defer t.Bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := update.Message
			if msg == nil || msg.Text == "" {
				continue
			}
			if msg.Chat.ID != t.ChatID {
				t.logger.Warn().Int64("chat", msg.Chat.ID).Msg("ignoring command from unknown chat")
				continue
			}
			text := strings.TrimSpace(msg.Text)
			if msg.IsCommand() {
				text = "/" + msg.Command()
			}
			t.logger.Info().Str("command", text).Msg("received command")
			reply := handler(text)
			if reply == "" {
				continue
			}
			if err := t.Send("<pre>" + html.EscapeString(reply) + "</pre>"); err != nil {
				t.logger.Error().Err(err).Msg("send reply")
			}
		}
	}
}
