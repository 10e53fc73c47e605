package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSMSGatewayPostsMessage(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gateway := NewSMSGateway(server.URL+"/", "key", "Therapy")
	if err := gateway.Send(context.Background(), "+15550001", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["to"] != "+15550001" || got["text"] != "hello" || got["from"] != "Therapy" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestSMSGatewayReportsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad number", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewSMSGateway(server.URL, "key", "Therapy").Send(context.Background(), "x", "hello")
	if err == nil {
		t.Fatal("expected provider error")
	}
}

func TestUnconfiguredSinksAreNoops(t *testing.T) {
	if err := NewSMSGateway("", "", "").Send(context.Background(), "+1", "x"); err != nil {
		t.Fatalf("sms: %v", err)
	}
	if err := NewMailer("", 0, "", "", "").Send("a@example.com", "s", "b"); err != nil {
		t.Fatalf("mail: %v", err)
	}
	alerter, err := NewOpsAlerter("", 0)
	if err != nil {
		t.Fatalf("NewOpsAlerter: %v", err)
	}
	if err := alerter.Alert("x"); err != nil {
		t.Fatalf("alert: %v", err)
	}
}

type stubBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestOpsAlerterSendsToChat(t *testing.T) {
	bot := &stubBot{}
	alerter := &OpsAlerter{bot: bot, chatID: 42}

	if err := alerter.Alert("settlement done"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected MessageConfig, got %T", bot.sent[0])
	}
	if msg.ChatID != 42 || msg.Text != "settlement done" {
		t.Fatalf("unexpected message %+v", msg)
	}

	bot.err = errors.New("flood")
	if err := alerter.Alert("again"); err == nil {
		t.Fatal("expected send error")
	}
}
