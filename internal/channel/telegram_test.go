package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeTelegramSender scripts the bot API's send behavior.
type fakeTelegramSender struct {
	calls      []tgbotapi.Chattable
	err        error
	markdownOK bool // when false, parse-mode sends fail with an entity error
}

func (f *fakeTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok && msg.ParseMode != "" && !f.markdownOK {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	return tgbotapi.Message{}, nil
}

func testTelegram(api telegramSender) *Telegram {
	tg := NewTelegram(TelegramConfig{Token: "test-token"})
	tg.api = api
	tg.backoffUnit = 0
	return tg
}

func TestTelegramSendPropagatesFailure(t *testing.T) {
	api := &fakeTelegramSender{err: errors.New("Bad Gateway")}
	tg := testTelegram(api)

	err := tg.Send(context.Background(), "100", "heads up")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "Bad Gateway") {
		t.Fatalf("expected underlying send error, got %v", err)
	}
	if len(api.calls) != telegramMaxSendRetries+1 {
		t.Fatalf("expected %d attempts, got %d", telegramMaxSendRetries+1, len(api.calls))
	}
}

func TestTelegramSendMarkdownFallback(t *testing.T) {
	api := &fakeTelegramSender{}
	tg := testTelegram(api)

	if err := tg.Send(context.Background(), "100", "*broken markdown"); err != nil {
		t.Fatalf("plain-text fallback should succeed: %v", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("expected markdown attempt plus plain retry, got %d calls", len(api.calls))
	}
	last, ok := api.calls[1].(tgbotapi.MessageConfig)
	if !ok || last.ParseMode != "" {
		t.Fatalf("expected plain-text resend, got %#v", api.calls[1])
	}
}

func TestTelegramSendNotStarted(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "test-token"})
	if err := tg.Send(context.Background(), "100", "hello"); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestTelegramSendRejectsBadChatID(t *testing.T) {
	tg := testTelegram(&fakeTelegramSender{markdownOK: true})
	if err := tg.Send(context.Background(), "not-a-number", "hello"); err == nil {
		t.Fatal("expected error for malformed chat ID")
	}
}
