package error_notificator

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxMessageLen is the Telegram limit for a text message.
const maxMessageLen = 4096

// sender is the part of *tgbotapi.BotAPI used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramInfra sends failure reports to an admin chat.
type TelegramInfra struct {
	bot    sender
	chatID int64
}

func NewTelegramInfra(bot *tgbotapi.BotAPI, chatID int64) *TelegramInfra {
	return &TelegramInfra{bot: bot, chatID: chatID}
}

func (i *TelegramInfra) Notify(ctx context.Context, jobID string, err error, details string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(i.chatID, formatMessage(jobID, err, details))
	if _, sendErr := i.bot.Send(msg); sendErr != nil {
		return fmt.Errorf("telegram send: %w", sendErr)
	}
	return nil
}

// LogInfra writes failure reports to the log. It is used when no bot is
// configured.
type LogInfra struct {
	log *zap.Logger
}

func NewLogInfra(log *zap.Logger) *LogInfra {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogInfra{log: log}
}

func (i *LogInfra) Notify(_ context.Context, jobID string, err error, details string) error {
	i.log.Error("job failed",
		zap.String("job_id", jobID),
		zap.Error(err),
		zap.String("details", details),
	)
	return nil
}

func formatMessage(jobID string, err error, details string) string {
	text := fmt.Sprintf("❗ Voice pipeline error (job %s)\n\nError: %v\n\nDetails: %s", jobID, err, details)
	if len(text) <= maxMessageLen {
		return text
	}
	cut := maxMessageLen - len("…")
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
