package telegram

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"puzzlepass/internal/domain/ports/adapter"
	"puzzlepass/internal/infra/logging"
)

var (
	_ adapter.Notifier = (*Notifier)(nil)
	_ adapter.Notifier = (*NoopNotifier)(nil)
)

// maxMessageRunes is Telegram's limit for a text message.
const maxMessageRunes = 4096

// Notifier posts operational alerts (refund revocations, failing webhooks)
// to one ops chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

// NewNotifier validates the token with getMe. endpoint overrides the Bot API
// URL format and is empty in production.
func NewNotifier(token string, chatID int64, endpoint string, logger *zerolog.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram notifier needs a token and a chat id")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", chatID).Msg("telegram notifier ready")
	return &Notifier{bot: bot, chatID: chatID, log: logger}, nil
}

// Notify sends text, truncated to the message limit. The Bot API client has no
// context support, so ctx only bounds how long the caller waits.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, truncate(text, maxMessageRunes))
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		logging.With(ctx, n.log).Warn().Msg("telegram send still in flight after context ended")
		return ctx.Err()
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

// NoopNotifier logs alerts instead of sending them.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{log: logger}
}

func (n *NoopNotifier) Notify(ctx context.Context, text string) error {
	logging.With(ctx, n.log).Info().Str("text", text).Msg("[noop-notify]")
	return nil
}
