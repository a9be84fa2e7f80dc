// Package gochannel provides the in-process bus backend, the default
// when no broker is configured and the one tests run on.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// bufferSize bounds the per-subscriber backlog. Platform events are
// advisory; a subscriber further behind than this loses them.
const bufferSize = 1000

// CreateChannel returns an in-memory publisher/subscriber pair. Both
// ends are the same pubsub instance, so events published before a
// subscriber attaches are not replayed.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            bufferSize,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return pubSub, pubSub, nil
}

// CreateTestChannel returns a pair tuned for deterministic tests:
// persistent messages and publishes that block until acknowledged.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            10,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
