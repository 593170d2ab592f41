package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/huskbot/husk/pkg/ai"
	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/gate"
	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/store"
	"github.com/huskbot/husk/pkg/utils"
)

// fallbackReply is what the user sees when every backend failed. It is
// deliberately not the error text.
const fallbackReply = "My brain short-circuited, ask me again in a bit."

// Loop is the serialization point: it consumes the inbound bus one
// message at a time and runs the full pipeline for each.
type Loop struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	service  *ai.Service
	karma    *karma.Engine
	gate     *gate.Gate
	profiles *store.ProfileStore
	history  *store.HistoryStore
	meta     *store.MetaStore

	counters    map[string]int // messages since the last spontaneous thought, per chat
	thoughtDue  map[string]int
	analysisBuf map[string][]ai.BatchMessage

	rand  func() float64
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func NewLoop(cfg *config.Config, b *bus.MessageBus, service *ai.Service, engine *karma.Engine, g *gate.Gate,
	profiles *store.ProfileStore, history *store.HistoryStore, meta *store.MetaStore) *Loop {
	return &Loop{
		cfg:         cfg,
		bus:         b,
		service:     service,
		karma:       engine,
		gate:        g,
		profiles:    profiles,
		history:     history,
		meta:        meta,
		counters:    make(map[string]int),
		thoughtDue:  make(map[string]int),
		analysisBuf: make(map[string][]ai.BatchMessage),
		rand:        rand.Float64,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run blocks consuming inbound messages until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	logger.InfoC("agent", "message loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("agent", "message loop stopped")
			return
		}
		l.handle(ctx, msg)
	}
}

func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	if err := l.meta.TouchChat(msg.ChatID, msg.Channel, msg.ChatTitle); err != nil {
		logger.ErrorCF("agent", "touch chat failed", map[string]any{"error": err.Error()})
	}

	profile := l.profiles.Get(msg.ChatID, msg.SenderID)

	switch l.gate.Admit(msg.ChatID, msg.SenderID, profile.Relationship) {
	case gate.VerdictFlood:
		return
	case gate.VerdictDailyCap:
		logger.DebugCF("agent", "message over daily cap", map[string]any{
			"chat": msg.ChatID,
			"user": msg.SenderID,
		})
		return
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Content), l.cfg.Bot.CommandPrefix) {
		l.handleCommand(ctx, msg, profile)
		return
	}

	l.karma.AnalyzeAndUpdate(msg.ChatID, msg.SenderID, msg.Content)
	if profile.IsFirstInteraction {
		l.karma.FirstInteractionBonus(msg.ChatID, msg.SenderID)
	}

	// The window before this message decides the follow-up check.
	window := l.history.Window(msg.ChatID)
	l.appendHistory(msg.ChatID, store.Message{
		Role:      store.RoleUser,
		Text:      msg.Content,
		UserID:    msg.SenderID,
		Sender:    msg.SenderName,
		Timestamp: l.now().UTC(),
	})

	respond, reason := l.gate.ShouldRespond(msg.Content, profile, window)
	if respond {
		l.respond(ctx, msg, profile, reason)
	} else {
		l.maybeReact(ctx, msg)
	}

	l.maybeThink(ctx, msg)
	l.bufferForAnalysis(ctx, msg)
}

func (l *Loop) respond(ctx context.Context, msg bus.InboundMessage, profile store.UserProfile, reason gate.RespondReason) {
	// Re-read: the karma analysis above may have moved the score.
	profile = l.profiles.Get(msg.ChatID, msg.SenderID)
	tier := karma.TierFor(profile.Relationship)

	l.sleep(ctx, l.gate.Delay(tier))

	instruction, err := l.meta.Instruction(msg.SenderID)
	if err != nil {
		logger.ErrorCF("agent", "load instruction failed", map[string]any{"error": err.Error()})
	}

	reply, err := l.service.Respond(ctx, ai.RespondRequest{
		Window:      l.history.Window(msg.ChatID),
		Sender:      msg.SenderName,
		Text:        msg.Content,
		ReplyTo:     msg.ReplyToText,
		Profile:     profile,
		Instruction: instruction,
		Spontaneous: reason == gate.ReasonSpontaneous,
	})
	if err != nil {
		logger.ErrorCF("agent", "respond failed", map[string]any{
			"chat":  msg.ChatID,
			"error": err.Error(),
		})
		reply = fallbackReply
		if errors.Is(err, ai.ErrAllBackendsExhausted) {
			l.notifyAdmin(msg.Channel, "every backend is down, running on fallback replies")
		}
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

// maybeReact attaches an emoji reaction to a message the bot is not
// answering. Messages that already collected reactions are more likely
// to get one.
func (l *Loop) maybeReact(ctx context.Context, msg bus.InboundMessage) {
	chance := l.cfg.Gate.ReactionChance
	if msg.HasReactions {
		chance = l.cfg.Gate.ReactionChanceExisting
	}
	if l.rand() >= chance {
		return
	}

	emoji, ok, err := l.service.Reaction(ctx, msg.Content)
	if err != nil || !ok {
		return
	}

	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		ReplyToID: msg.MessageID,
		Reaction:  emoji,
	})
	l.appendHistory(msg.ChatID, store.Message{
		Role:      store.RoleAssistant,
		Text:      emoji,
		Sender:    l.cfg.Bot.Name,
		Timestamp: l.now().UTC(),
		Type:      store.TypeSpontaneousReaction,
	})
}

// maybeThink drops an unprompted remark into the chat on a randomized
// message cadence.
func (l *Loop) maybeThink(ctx context.Context, msg bus.InboundMessage) {
	l.counters[msg.ChatID]++

	due, ok := l.thoughtDue[msg.ChatID]
	if !ok {
		due = l.nextThoughtDue()
		l.thoughtDue[msg.ChatID] = due
	}
	if l.counters[msg.ChatID] < due {
		return
	}
	l.counters[msg.ChatID] = 0
	l.thoughtDue[msg.ChatID] = l.nextThoughtDue()

	thought, ok, err := l.service.SpontaneousThought(ctx, l.history.Window(msg.ChatID))
	if err != nil || !ok {
		return
	}

	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: thought,
	})
	l.appendHistory(msg.ChatID, store.Message{
		Role:      store.RoleAssistant,
		Text:      thought,
		Sender:    l.cfg.Bot.Name,
		Timestamp: l.now().UTC(),
		Type:      store.TypeSpontaneousThought,
	})
}

func (l *Loop) nextThoughtDue() int {
	jitter := l.cfg.Gate.ThoughtJitter
	if jitter <= 0 {
		return l.cfg.Gate.ThoughtEvery
	}
	return l.cfg.Gate.ThoughtEvery + int(l.rand()*float64(jitter))
}

// bufferForAnalysis collects messages and runs the batch profile
// analysis when the buffer fills. A failed batch goes back into the
// buffer so nothing is lost.
func (l *Loop) bufferForAnalysis(ctx context.Context, msg bus.InboundMessage) {
	l.analysisBuf[msg.ChatID] = append(l.analysisBuf[msg.ChatID], ai.BatchMessage{
		UserID: msg.SenderID,
		Sender: msg.SenderName,
		Text:   msg.Content,
	})
	if len(l.analysisBuf[msg.ChatID]) < l.cfg.Gate.AnalysisBufferSize {
		return
	}

	batch := l.analysisBuf[msg.ChatID]
	l.analysisBuf[msg.ChatID] = nil

	analyses, ok, err := l.service.AnalyzeBatch(ctx, batch)
	if err != nil {
		logger.ErrorCF("agent", "batch analysis failed, keeping buffer", map[string]any{
			"chat":  msg.ChatID,
			"error": err.Error(),
		})
		l.analysisBuf[msg.ChatID] = append(batch, l.analysisBuf[msg.ChatID]...)
		return
	}
	if !ok {
		// Unparseable output: the enrichment is optional, drop the batch.
		return
	}

	updated := l.profiles.BulkUpdate(msg.ChatID, ai.UpdatesFromAnalyses(analyses))
	logger.InfoCF("agent", "profiles updated from analysis", map[string]any{
		"chat":  msg.ChatID,
		"users": len(updated),
	})
}

func (l *Loop) notifyAdmin(channel, text string) {
	if l.cfg.Bot.AdminID == "" {
		return
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  l.cfg.Bot.AdminID,
		Content: "[admin] " + text,
	})
}

func (l *Loop) appendHistory(chatID string, msg store.Message) {
	if err := l.history.Append(chatID, msg); err != nil {
		logger.ErrorCF("agent", "history append failed", map[string]any{
			"chat":    chatID,
			"error":   err.Error(),
			"preview": utils.Truncate(msg.Text, 50),
		})
	}
}

// ProcessDirect runs a trimmed pipeline for the interactive CLI: no
// gating, no reactions, straight to a reply.
func (l *Loop) ProcessDirect(ctx context.Context, chatID, userID, sender, text string) (string, error) {
	profile := l.profiles.Get(chatID, userID)
	l.karma.AnalyzeAndUpdate(chatID, userID, text)
	if profile.IsFirstInteraction {
		l.karma.FirstInteractionBonus(chatID, userID)
	}

	l.appendHistory(chatID, store.Message{
		Role:      store.RoleUser,
		Text:      text,
		UserID:    userID,
		Sender:    sender,
		Timestamp: l.now().UTC(),
	})

	reply, err := l.service.Respond(ctx, ai.RespondRequest{
		Window:  l.history.Window(chatID),
		Sender:  sender,
		Text:    text,
		Profile: l.profiles.Get(chatID, userID),
	})
	if err != nil {
		return "", err
	}

	l.appendHistory(chatID, store.Message{
		Role:      store.RoleAssistant,
		Text:      reply,
		Sender:    l.cfg.Bot.Name,
		Timestamp: l.now().UTC(),
	})
	return reply, nil
}

// SetRandSource replaces the random source. Test hook.
func (l *Loop) SetRandSource(f func() float64) {
	l.rand = f
}

// SetSleeper replaces the delay sleeper. Test hook.
func (l *Loop) SetSleeper(f func(ctx context.Context, d time.Duration)) {
	l.sleep = f
}
