package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{ChatID: "c1", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.ChatID)
	assert.Equal(t, "hello", msg.Content)
}

func TestConsumeInbound_ContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestSubscribeOutbound_AfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	_, ok := mb.SubscribeOutbound(context.Background())
	assert.False(t, ok)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	// Must not panic on the closed channel.
	mb.PublishInbound(InboundMessage{Content: "late"})
	mb.PublishOutbound(OutboundMessage{Content: "late"})
}

func TestPublishInbound_FullBusDropsAndCounts(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < 101; i++ {
		mb.PublishInbound(InboundMessage{Content: "flood"})
	}

	assert.Equal(t, uint64(1), mb.DroppedInbound())
}

func TestConcurrentPublishers(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			mb.PublishOutbound(OutboundMessage{Content: "x"})
		}()
	}

	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, ok := mb.SubscribeOutbound(ctx)
		cancel()
		require.True(t, ok)
	}
	wg.Wait()
}
