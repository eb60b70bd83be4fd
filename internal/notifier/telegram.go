package notifier

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	Bot        *tgbotapi.BotAPI
	ChatID     int64
	MaxRetries uint64
	// BackOff builds the retry policy for a single send.
	BackOff func() backoff.BackOff

	logger zerolog.Logger
}

// TelegramOptions configures NewTelegramNotifier.
type TelegramOptions struct {
	Token      string
	ChatID     string
	Proxy      string
	Endpoint   string // defaults to tgbotapi.APIEndpoint
	MaxRetries uint64
}

// NewTelegramNotifier authorizes the bot with optional proxy support.
func NewTelegramNotifier(opts TelegramOptions) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(opts.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: %w", opts.ChatID, err)
	}
	transport := &http.Transport{}
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: 40 * time.Second, Transport: transport}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}

	t := &TelegramNotifier{
		Bot:        bot,
		ChatID:     chatID,
		MaxRetries: opts.MaxRetries,
		logger:     log.With().Str("component", "telegram").Logger(),
	}
	t.BackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		return b
	}
	t.logger.Info().Str("username", bot.Self.UserName).Msg("authorized on telegram")
	return t, nil
}

// Send sends one HTML message to the configured chat.
func (t *TelegramNotifier) Send(text string) error {
	msg := tgbotapi.NewMessage(t.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.Bot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Notify sends subject and body with exponential backoff between attempts.
func (t *TelegramNotifier) Notify(ctx context.Context, subject, body string) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(subject), html.EscapeString(body))
	policy := backoff.WithContext(backoff.WithMaxRetries(t.BackOff(), t.MaxRetries), ctx)
	err := backoff.RetryNotify(func() error { return t.Send(text) }, policy,
		func(err error, wait time.Duration) {
			t.logger.Warn().Err(err).Dur("retry_in", wait).Msg("telegram send failed")
		})
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}
