package channels

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
)

type fakeTelegramBot struct {
	sent     []tgbotapi.MessageConfig
	requests []struct {
		Endpoint string
		Params   tgbotapi.Params
	}
	updates chan tgbotapi.Update
}

func newFakeTelegramBot() *fakeTelegramBot {
	return &fakeTelegramBot{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeTelegramBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegramBot) StopReceivingUpdates() {}

func (f *fakeTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegramBot) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, struct {
		Endpoint string
		Params   tgbotapi.Params
	}{endpoint, params})
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegramBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "husk_bot"}
}

func newTestTelegramChannel(t *testing.T, b *bus.MessageBus) (*TelegramChannel, *fakeTelegramBot) {
	t.Helper()
	fake := newFakeTelegramBot()
	factory := func(string, *http.Client) (TelegramBot, error) { return fake, nil }
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "test-token"}, b, factory)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch, fake
}

func TestTelegramChannel_InboundReachesBus(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch, fake := newTestTelegramChannel(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ch.Stop(ctx)

	fake.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, FirstName: "Alex", UserName: "alex"},
		Chat:      &tgbotapi.Chat{ID: -100, Title: "the chat"},
		Text:      "hello husk",
		ReplyToMessage: &tgbotapi.Message{
			Text: "earlier message",
		},
	}}

	consumeCtx, consumeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer consumeCancel()
	msg, ok := b.ConsumeInbound(consumeCtx)
	if !ok {
		t.Fatalf("expected inbound message")
	}
	if msg.Channel != "telegram" || msg.ChatID != "-100" || msg.SenderID != "42" {
		t.Fatalf("unexpected message identity: %+v", msg)
	}
	if msg.SenderName != "Alex" {
		t.Fatalf("expected sender name Alex, got %q", msg.SenderName)
	}
	if msg.ReplyToText != "earlier message" {
		t.Fatalf("expected reply context, got %q", msg.ReplyToText)
	}
	if msg.MessageID != "7" {
		t.Fatalf("expected message id 7, got %q", msg.MessageID)
	}
}

func TestTelegramChannel_SendSplitsLongMessages(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch, fake := newTestTelegramChannel(t, b)
	ch.bot = fake

	long := strings.Repeat("строка текста\n", 400) // ~5600 runes
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "-100", Content: long, ReplyToID: "7"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) < 2 {
		t.Fatalf("expected message split into chunks, got %d", len(fake.sent))
	}
	for _, m := range fake.sent {
		if n := len([]rune(m.Text)); n > telegramChunkLimit {
			t.Fatalf("chunk exceeds limit: %d runes", n)
		}
	}
	if fake.sent[0].ReplyToMessageID != 7 {
		t.Fatalf("expected first chunk to reply, got %d", fake.sent[0].ReplyToMessageID)
	}
	if fake.sent[1].ReplyToMessageID != 0 {
		t.Fatalf("expected later chunks not to reply")
	}
}

func TestTelegramChannel_SendReaction(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch, fake := newTestTelegramChannel(t, b)
	ch.bot = fake

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "-100", ReplyToID: "7", Reaction: "🔥"})
	if err != nil {
		t.Fatalf("send reaction: %v", err)
	}
	if len(fake.requests) != 1 {
		t.Fatalf("expected one raw request, got %d", len(fake.requests))
	}
	req := fake.requests[0]
	if req.Endpoint != "setMessageReaction" {
		t.Fatalf("expected setMessageReaction, got %q", req.Endpoint)
	}
	if !strings.Contains(req.Params["reaction"], "🔥") {
		t.Fatalf("expected emoji in reaction payload, got %q", req.Params["reaction"])
	}
	if len(fake.sent) != 0 {
		t.Fatalf("reaction must not send a text message")
	}
}

func TestBaseChannel_Allowlist(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()

	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Fatalf("empty allowlist must allow everyone")
	}

	restricted := NewBaseChannel("test", b, []string{"42", "@alex"})
	if !restricted.IsAllowed("42") {
		t.Fatalf("expected numeric id allowed")
	}
	if !restricted.IsAllowed("99|alex") {
		t.Fatalf("expected username part allowed")
	}
	if restricted.IsAllowed("99") {
		t.Fatalf("expected unknown id rejected")
	}
}

func TestSplitRunes_PrefersNewlineBoundary(t *testing.T) {
	content := strings.Repeat("a", 3990) + "\n" + strings.Repeat("b", 100)
	chunks := splitRunes(content, 4000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "a") || strings.Contains(chunks[0], "b") {
		t.Fatalf("expected split at newline")
	}
	if chunks[1] != strings.Repeat("b", 100) {
		t.Fatalf("unexpected second chunk")
	}
}

func TestCleanMarkdown(t *testing.T) {
	in := "**bold** and `code` plus ```\nfenced\n```"
	out := cleanMarkdown(in)
	for _, marker := range []string{"**", "`"} {
		if strings.Contains(out, marker) {
			t.Fatalf("expected %q stripped, got %q", marker, out)
		}
	}
	if !strings.Contains(out, "bold") || !strings.Contains(out, "fenced") {
		t.Fatalf("content lost during cleanup: %q", out)
	}
}
