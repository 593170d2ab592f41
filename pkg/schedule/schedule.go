package schedule

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/huskbot/husk/pkg/ai"
	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/store"
)

// activeWindow bounds which chats get a daily summary: anything quiet
// for longer than this is skipped.
const activeWindow = 24 * time.Hour

// Scheduler fires the daily chat summary on a cron expression. It
// ticks once a minute and asks gronx whether the expression is due.
type Scheduler struct {
	cfg     config.SummaryConfig
	service *ai.Service
	history *store.HistoryStore
	meta    *store.MetaStore
	bus     *bus.MessageBus
	gron    *gronx.Gronx
	now     func() time.Time
}

func NewScheduler(cfg config.SummaryConfig, service *ai.Service, history *store.HistoryStore, meta *store.MetaStore, b *bus.MessageBus) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		service: service,
		history: history,
		meta:    meta,
		bus:     b,
		gron:    gronx.New(),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		logger.InfoC("schedule", "daily summary disabled")
		return
	}
	if !s.gron.IsValid(s.cfg.Cron) {
		logger.ErrorCF("schedule", "invalid cron expression, summary disabled", map[string]any{
			"cron": s.cfg.Cron,
		})
		return
	}

	logger.InfoCF("schedule", "daily summary scheduled", map[string]any{"cron": s.cfg.Cron})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.cfg.Cron, s.now())
			if err != nil || !due {
				continue
			}
			s.runOnce(ctx)
		}
	}
}

// runOnce summarizes every chat active within the window.
func (s *Scheduler) runOnce(ctx context.Context) {
	chats, err := s.meta.ActiveChats(activeWindow)
	if err != nil {
		logger.ErrorCF("schedule", "failed to list active chats", map[string]any{"error": err.Error()})
		return
	}

	for _, chat := range chats {
		todays := s.todaysMessages(chat.ChatID)
		if len(todays) == 0 {
			continue
		}

		summary, err := s.service.DailySummary(ctx, todays)
		if err != nil {
			logger.ErrorCF("schedule", "daily summary failed", map[string]any{
				"chat":  chat.ChatID,
				"error": err.Error(),
			})
			continue
		}

		s.bus.PublishOutbound(bus.OutboundMessage{
			Channel: chat.Channel,
			ChatID:  chat.ChatID,
			Content: summary,
		})
		logger.InfoCF("schedule", "daily summary sent", map[string]any{"chat": chat.ChatID})
	}
}

func (s *Scheduler) todaysMessages(chatID string) []store.Message {
	window := s.history.Window(chatID)
	dayStart := s.now().Truncate(24 * time.Hour)

	var todays []store.Message
	for _, m := range window {
		if !m.Timestamp.Before(dayStart) {
			todays = append(todays, m)
		}
	}
	return todays
}
