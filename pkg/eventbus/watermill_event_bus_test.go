package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtosite/webtosite/pkg/channels/gochannel"
	"github.com/webtosite/webtosite/pkg/eventbus"
	"github.com/webtosite/webtosite/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	received := make(chan *events.RunProgress, 1)
	require.NoError(t, bus.Handle(events.RunProgressEvent, func(_ context.Context, event interface{}) error {
		if progress, ok := event.(*events.RunProgress); ok {
			received <- progress
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	event := events.RunProgress{
		BaseEvent: events.NewBaseEvent(events.RunProgressEvent, "run-1"),
		Step:      "creating_site",
		Message:   "provisioning host site",
	}
	require.NoError(t, bus.Publish(ctx, "run-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "creating_site", got.Step)
		assert.Equal(t, events.RunProgressEvent, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_SkipsUnhandledTypes(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	received := make(chan *events.RunCompleted, 1)
	require.NoError(t, bus.Handle(events.RunCompletedEvent, func(_ context.Context, event interface{}) error {
		if completed, ok := event.(*events.RunCompleted); ok {
			received <- completed
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	started := events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, "run-2"),
		Kind:      "domain_site_copy",
	}
	require.NoError(t, bus.Publish(ctx, "run-2", started))

	completed := events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "run-2"),
		Steps:     []string{"config_validated", "site_created"},
	}
	require.NoError(t, bus.Publish(ctx, "run-2", completed))

	select {
	case got := <-received:
		assert.Equal(t, events.RunCompletedEvent, got.Type)
		assert.Equal(t, []string{"config_validated", "site_created"}, got.Steps)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
