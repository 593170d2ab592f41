package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huskbot/husk/pkg/ai"
	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/providers"
	"github.com/huskbot/husk/pkg/store"
)

type summaryProvider struct {
	content string
	calls   int
}

func (p *summaryProvider) Name() string { return "fake" }

func (p *summaryProvider) Generate(context.Context, string, []providers.Message, string, providers.GenerationParams) (*providers.Response, error) {
	p.calls++
	return &providers.Response{Content: p.content}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *summaryProvider, *store.HistoryStore, *store.MetaStore, *bus.MessageBus) {
	t.Helper()
	dir := t.TempDir()

	provider := &summaryProvider{content: "today you argued about tabs vs spaces"}
	backends := &providers.Backends{
		Providers: map[string]providers.LLMProvider{"fake": provider},
		Registry: providers.NewModelRegistry(
			[]config.ModelConfig{{Name: "m", Provider: "fake", Tier: "default"}},
			map[string]*providers.CredentialPool{"fake": providers.NewCredentialPool([]string{"k"})},
		),
	}
	service := ai.NewService(ai.New(backends), "husk")

	history, err := store.NewHistoryStore(filepath.Join(dir, "history"), 50)
	require.NoError(t, err)
	meta, err := store.NewMetaStore(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	b := bus.NewMessageBus()
	t.Cleanup(b.Close)

	s := NewScheduler(config.SummaryConfig{Enabled: true, Cron: "0 22 * * *"}, service, history, meta, b)
	return s, provider, history, meta, b
}

func TestRunOnce_SummarizesActiveChatsWithTraffic(t *testing.T) {
	s, provider, history, meta, b := newTestScheduler(t)

	require.NoError(t, meta.TouchChat("c1", "telegram", "busy chat"))
	require.NoError(t, meta.TouchChat("c2", "telegram", "quiet chat"))
	require.NoError(t, history.Append("c1", store.Message{
		Role: store.RoleUser, Text: "morning", Sender: "a", Timestamp: time.Now().UTC(),
	}))

	s.runOnce(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.ChatID)
	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "today you argued about tabs vs spaces", msg.Content)

	// The quiet chat produced no call and no message.
	assert.Equal(t, 1, provider.calls)
}

func TestRunOnce_SkipsStaleMessages(t *testing.T) {
	s, provider, history, meta, _ := newTestScheduler(t)

	require.NoError(t, meta.TouchChat("c1", "telegram", "chat"))
	require.NoError(t, history.Append("c1", store.Message{
		Role: store.RoleUser, Text: "old news", Sender: "a",
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
	}))

	s.runOnce(context.Background())
	assert.Equal(t, 0, provider.calls)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t)
	s.cfg.Enabled = false

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled scheduler")
	}
}
