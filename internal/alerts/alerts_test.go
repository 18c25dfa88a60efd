package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, string, string) error {
	n.calls++
	return n.err
}

func TestMultiNotifiesEveryChannel(t *testing.T) {
	failing := &countingNotifier{err: errors.New("channel down")}
	ok := &countingNotifier{}
	var buf bytes.Buffer
	m := Multi{NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil))), failing, ok}

	err := m.Notify(context.Background(), "Refund failed", "generation gen_1")
	if err == nil || !strings.Contains(err.Error(), "channel down") {
		t.Fatalf("err = %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("calls = %d, %d", failing.calls, ok.calls)
	}
	if !strings.Contains(buf.String(), "Refund failed") {
		t.Errorf("log output = %s", buf.String())
	}
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifierTruncates(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{bot: sender, chatID: 42}

	if err := n.Notify(context.Background(), "Purchase needs reconciliation", strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 42 || len([]rune(msg.Text)) != maxTelegramMessage {
		t.Errorf("chat = %d, len = %d", msg.ChatID, len([]rune(msg.Text)))
	}
}

func TestEncodeAlert(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload, err := encodeAlert("Refund failed", "details", at)
	if err != nil {
		t.Fatalf("encodeAlert: %v", err)
	}
	var msg alertMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Title != "Refund failed" || msg.Body != "details" || !msg.SentAt.Equal(at) {
		t.Errorf("message = %+v", msg)
	}
}
