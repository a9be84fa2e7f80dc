package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/webtosite/webtosite/pkg/channels/gochannel"
	"github.com/webtosite/webtosite/pkg/channels/kafka"
	"github.com/webtosite/webtosite/pkg/eventbus"
)

// NewEventBus builds the platform event bus. "kafka" reads its broker
// list from brokers (comma separated); anything else selects the
// in-process backend.
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "webtosite", strings.Split(brokers, ","))
		if err != nil {
			return nil, fmt.Errorf("creating kafka bus: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("creating in-process bus: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	}
}
