package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/utils"
)

const (
	discordChannelName = "discord"
	discordChunkLimit  = 1900 // hard API limit is 2000
	discordSendTimeout = 10 * time.Second
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	logger.InfoC("discord", "Discord bot stopped")
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.Content == "" {
		return
	}

	replyTo := ""
	if m.ReferencedMessage != nil {
		replyTo = m.ReferencedMessage.Content
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender":  m.Author.Username,
		"channel": m.ChannelID,
		"preview": utils.Truncate(m.Content, 50),
	})

	c.publish(bus.InboundMessage{
		ChatID:       m.ChannelID,
		MessageID:    m.ID,
		SenderID:     m.Author.ID,
		SenderName:   m.Author.Username,
		Content:      m.Content,
		ReplyToText:  replyTo,
		HasReactions: len(m.Reactions) > 0,
		Metadata: map[string]string{
			"guild_id": m.GuildID,
		},
	})
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	if msg.Reaction != "" {
		if msg.ReplyToID == "" {
			return fmt.Errorf("reaction needs a message id")
		}
		if err := c.session.MessageReactionAdd(msg.ChatID, msg.ReplyToID, msg.Reaction); err != nil {
			return fmt.Errorf("add discord reaction: %w", err)
		}
		return nil
	}

	// Discord renders markdown, so the content goes out untouched.
	content := msg.Content
	replyTo := msg.ReplyToID
	for _, chunk := range splitRunes(content, discordChunkLimit) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk, replyTo); err != nil {
			return err
		}
		replyTo = "" // only the first chunk replies
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content, replyTo string) error {
	sendCtx, cancel := context.WithTimeout(ctx, discordSendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if replyTo != "" {
			_, err = c.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: channelID,
			})
		} else {
			_, err = c.session.ChannelMessageSend(channelID, content)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}
