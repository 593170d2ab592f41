package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/logger"
)

// Manager owns the configured transports and routes outbound messages
// to the right one.
type Manager struct {
	bus      *bus.MessageBus
	channels map[string]Channel
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{bus: b, channels: make(map[string]Channel)}

	if cfg.Channels.Telegram.Token != "" {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Channels.Discord.Token != "" {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, b)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no channels configured (set a telegram or discord token)")
	}
	return m, nil
}

// Register adds a channel. Used by tests and by the CLI chat transport.
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Start opens every transport and begins dispatching outbound messages.
func (m *Manager) Start(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s channel: %w", name, err)
		}
		logger.InfoCF("channels", "channel started", map[string]any{"channel": name})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchOutbound(ctx)
	}()
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := m.channels[msg.Channel]
		if !found {
			logger.WarnCF("channels", "outbound message for unknown channel", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "send failed", map[string]any{
				"channel": msg.Channel,
				"chat":    msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Stop closes every transport and waits for the dispatcher to drain.
func (m *Manager) Stop(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "stop failed", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	m.wg.Wait()
}
