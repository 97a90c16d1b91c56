package error_notificator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

type failingInfra struct{ calls int }

func (f *failingInfra) Notify(context.Context, string, error, string) error {
	f.calls++
	return errors.New("telegram is down")
}

func TestTelegramInfraSendsToAdminChat(t *testing.T) {
	bot := &fakeSender{}
	infra := &TelegramInfra{bot: bot, chatID: 42}

	err := infra.Notify(context.Background(), "job-1", errors.New("transcription failed"), "file=\"a.mp3\"")
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 {
		t.Fatalf("chat id = %d", msg.ChatID)
	}
	for _, want := range []string{"job-1", "transcription failed", "a.mp3"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message %q missing %q", msg.Text, want)
		}
	}
}

func TestTelegramInfraSendError(t *testing.T) {
	infra := &TelegramInfra{bot: &fakeSender{err: errors.New("forbidden")}, chatID: 1}
	err := infra.Notify(context.Background(), "job", errors.New("x"), "")
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("error = %v", err)
	}
}

func TestTelegramInfraCanceledContext(t *testing.T) {
	bot := &fakeSender{}
	infra := &TelegramInfra{bot: bot, chatID: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := infra.Notify(ctx, "job", errors.New("x"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if len(bot.sent) != 0 {
		t.Fatal("message sent on canceled context")
	}
}

func TestFormatMessageTruncates(t *testing.T) {
	details := strings.Repeat("ж", 5000)
	text := formatMessage("job", errors.New("boom"), details)
	if len(text) > maxMessageLen {
		t.Fatalf("len = %d", len(text))
	}
	if !utf8.ValidString(text) || !strings.HasSuffix(text, "…") {
		t.Fatal("truncated message is not valid UTF-8 with an ellipsis")
	}
}

func TestLogInfra(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	infra := NewLogInfra(zap.New(core))

	if err := infra.Notify(context.Background(), "job-7", errors.New("boom"), "state=failed"); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterField(zap.String("job_id", "job-7")).All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
}

func TestServiceSwallowsDeliveryErrors(t *testing.T) {
	infra := &failingInfra{}
	svc := NewService(infra, nil)

	if err := svc.Notify(context.Background(), "job", errors.New("x"), ""); err != nil {
		t.Fatalf("Notify() error = %v, want nil", err)
	}
	if infra.calls != 1 {
		t.Fatalf("calls = %d", infra.calls)
	}
}

func TestServiceWithoutInfra(t *testing.T) {
	if err := NewService(nil, nil).Notify(context.Background(), "job", errors.New("x"), ""); err != nil {
		t.Fatal(err)
	}
}
