package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/utils"
)

const (
	telegramChannelName = "telegram"
	telegramChunkLimit  = 4000 // API limit is 4096, leave headroom
	telegramMaxTotal    = 8500 // replies longer than this get truncated
)

// TelegramBot is the slice of the bot API the channel uses, extracted
// so tests can substitute a fake.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return w.bot.MakeRequest(endpoint, params)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory builds the underlying bot. Tests inject their own.
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	*BaseChannel
	config     config.TelegramConfig
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		config:      cfg,
		botFactory:  factory,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	client := http.DefaultClient
	if c.config.Proxy != "" {
		proxyURL, err := url.Parse(c.config.Proxy)
		if err != nil {
			return fmt.Errorf("parse telegram proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}

	bot, err := c.botFactory(c.config.Token, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	c.bot = bot

	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": bot.GetSelf().UserName,
	})

	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	c.setRunning(true)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				c.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	logger.InfoC("telegram", "Telegram bot stopped")
	return nil
}

func (c *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{
			"user_id":  senderID,
			"username": msg.From.UserName,
		})
		return
	}

	replyTo := ""
	if msg.ReplyToMessage != nil {
		replyTo = msg.ReplyToMessage.Text
	}

	logger.DebugCF("telegram", "Received message", map[string]any{
		"chat_id": msg.Chat.ID,
		"sender":  senderName(msg.From),
		"preview": utils.Truncate(content, 50),
	})

	c.publish(bus.InboundMessage{
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		ChatTitle:   msg.Chat.Title,
		MessageID:   strconv.Itoa(msg.MessageID),
		SenderID:    senderID,
		SenderName:  senderName(msg.From),
		Content:     content,
		ReplyToText: replyTo,
		Metadata: map[string]string{
			"username": msg.From.UserName,
		},
	})
}

func senderName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	if msg.Reaction != "" {
		return c.sendReaction(chatID, msg.ReplyToID, msg.Reaction)
	}

	content := cleanMarkdown(msg.Content)
	if len([]rune(content)) > telegramMaxTotal {
		content = utils.Truncate(content, telegramMaxTotal)
	}

	replyTo := 0
	if msg.ReplyToID != "" {
		replyTo, _ = strconv.Atoi(msg.ReplyToID)
	}

	for _, chunk := range splitRunes(content, telegramChunkLimit) {
		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		if replyTo != 0 {
			tgMsg.ReplyToMessageID = replyTo
			replyTo = 0 // only the first chunk replies
		}
		if _, err := c.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// sendReaction attaches an emoji reaction to a message. The bot API
// wrapper has no typed call for setMessageReaction, so this goes
// through the raw request path.
func (c *TelegramChannel) sendReaction(chatID int64, messageID, emoji string) error {
	if messageID == "" {
		return fmt.Errorf("reaction needs a message id")
	}
	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": messageID,
		"reaction":   fmt.Sprintf(`[{"type":"emoji","emoji":%q}]`, emoji),
	}
	if _, err := c.bot.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("set telegram reaction: %w", err)
	}
	return nil
}

// splitRunes chunks text at the rune limit, preferring newline breaks.
func splitRunes(content string, limit int) []string {
	var chunks []string
	runes := []rune(content)
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit-200 && i > 0; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	return chunks
}

// cleanMarkdown strips the markdown the backends like to emit; replies
// go out as plain text.
func cleanMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.ReplaceAll(s, "`", "")
	return s
}
