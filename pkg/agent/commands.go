package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/store"
)

// handleCommand serves the slash commands. Unknown commands fall
// through to a normal reply so typos still get an answer.
func (l *Loop) handleCommand(ctx context.Context, msg bus.InboundMessage, profile store.UserProfile) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(msg.Content), l.cfg.Bot.CommandPrefix)
	cmd, rest, _ := strings.Cut(trimmed, " ")
	// Strip the @botname suffix group chats add to commands.
	cmd, _, _ = strings.Cut(strings.ToLower(cmd), "@")

	var reply string
	switch cmd {
	case "karma":
		tier := karma.TierFor(profile.Relationship)
		reply = fmt.Sprintf("%s: %d/100 (%s)", msg.SenderName, profile.Relationship, tier)

	case "dossier", "whoami":
		text, err := l.service.Dossier(ctx, msg.SenderName, profile)
		if err != nil {
			logger.ErrorCF("agent", "dossier failed", map[string]any{"error": err.Error()})
			text = fallbackReply
		}
		reply = text

	case "judge":
		text, err := l.service.JudgeDebate(ctx, l.history.Window(msg.ChatID))
		if err != nil {
			logger.ErrorCF("agent", "judge failed", map[string]any{"error": err.Error()})
			text = fallbackReply
		}
		reply = text

	case "instruct":
		instruction := strings.TrimSpace(rest)
		if instruction == "" {
			if err := l.meta.SetInstruction(msg.SenderID, ""); err != nil {
				logger.ErrorCF("agent", "clear instruction failed", map[string]any{"error": err.Error()})
			}
			reply = "Fine, forgetting your special treatment."
			break
		}
		if err := l.meta.SetInstruction(msg.SenderID, instruction); err != nil {
			logger.ErrorCF("agent", "save instruction failed", map[string]any{"error": err.Error()})
			reply = "Couldn't write that down, try again."
			break
		}
		reply = "Noted. I'll keep that in mind when talking to you."

	case "stats":
		stats, err := l.history.Stats(msg.ChatID)
		if err != nil {
			logger.ErrorCF("agent", "stats failed", map[string]any{"error": err.Error()})
			reply = "The archive is jammed."
			break
		}
		reply = fmt.Sprintf("This chat: %d messages on record, %d KB of history.",
			stats.TotalMessages, stats.SizeBytes/1024)

	default:
		// Not one of ours: treat it as a normal message addressed to
		// the bot.
		l.respond(ctx, msg, profile, "")
		return
	}

	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   reply,
		ReplyToID: msg.MessageID,
	})
	l.appendHistory(msg.ChatID, store.Message{
		Role:      store.RoleAssistant,
		Text:      reply,
		Sender:    l.cfg.Bot.Name,
		Timestamp: l.now().UTC(),
	})
}
