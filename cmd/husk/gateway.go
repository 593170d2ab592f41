package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huskbot/husk/pkg/agent"
	"github.com/huskbot/husk/pkg/ai"
	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/channels"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/gate"
	"github.com/huskbot/husk/pkg/health"
	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/providers"
	"github.com/huskbot/husk/pkg/schedule"
	"github.com/huskbot/husk/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// activeChatWarmup bounds how far back we look for chats whose history
// windows get preloaded at startup.
const activeChatWarmup = 7 * 24 * time.Hour

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the bot: connect channels and serve chats until interrupted",
		Example: "  husk gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			return runGateway()
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// app holds everything the gateway wires together, so shutdown can
// tear it down in order.
type app struct {
	service  *ai.Service
	bus      *bus.MessageBus
	profiles *store.ProfileStore
	history  *store.HistoryStore
	meta     *store.MetaStore
	loop     *agent.Loop
	manager  *channels.Manager
	health   *health.Server
}

func buildApp(cfg *config.Config) (*app, error) {
	backends, err := providers.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}
	service := ai.NewService(ai.New(backends), cfg.Bot.Name)

	dataDir := cfg.DataDirPath()
	flushEvery := time.Duration(cfg.Storage.FlushIntervalMS) * time.Millisecond

	profiles, err := store.NewProfileStore(filepath.Join(dataDir, "profiles.json"), cfg.Karma.Default, flushEvery)
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}
	profiles.SetAdmin(cfg.Bot.AdminID)

	history, err := store.NewHistoryStore(filepath.Join(dataDir, "chat_history"), cfg.Storage.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	meta, err := store.NewMetaStore(filepath.Join(dataDir, "meta.db"))
	if err != nil {
		return nil, fmt.Errorf("opening meta store: %w", err)
	}

	// Chats seen recently get their context windows back before the
	// first message arrives.
	if chats, err := meta.ActiveChats(activeChatWarmup); err == nil {
		for _, chat := range chats {
			if err := history.WarmWindow(chat.ChatID); err != nil {
				logger.WarnCF("gateway", "window warmup failed", map[string]any{
					"chat":  chat.ChatID,
					"error": err.Error(),
				})
			}
		}
	}

	msgBus := bus.NewMessageBus()

	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return nil, err
	}

	loop := agent.NewLoop(cfg, msgBus, service,
		karma.NewEngine(cfg.Karma, profiles),
		gate.New(cfg.Bot, cfg.Gate, cfg.Karma),
		profiles, history, meta)

	return &app{
		service:  service,
		bus:      msgBus,
		profiles: profiles,
		history:  history,
		meta:     meta,
		loop:     loop,
		manager:  manager,
		health:   health.NewServer(cfg.Gateway),
	}, nil
}

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.health.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	if err := rt.manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	go rt.loop.Run(ctx)

	scheduler := schedule.NewScheduler(cfg.Summary, rt.service, rt.history, rt.meta, rt.bus)
	go scheduler.Run(ctx)

	rt.health.SetReady(true)
	logger.InfoCF("gateway", "gateway running", map[string]any{
		"channels": rt.manager.Names(),
		"version":  formatVersion(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.InfoCF("gateway", "shutting down", map[string]any{"signal": sig.String()})

	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	rt.health.SetReady(false)
	rt.manager.Stop(shutdownCtx)
	if err := rt.health.Stop(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "health server stop failed", map[string]any{"error": err.Error()})
	}
	if err := rt.profiles.Close(); err != nil {
		logger.WarnCF("gateway", "profile store close failed", map[string]any{"error": err.Error()})
	}
	if err := rt.meta.Close(); err != nil {
		logger.WarnCF("gateway", "meta store close failed", map[string]any{"error": err.Error()})
	}
	rt.bus.Close()

	logger.InfoC("gateway", "goodbye")
	return nil
}
