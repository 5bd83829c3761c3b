package connection

import (
	"context"

	"github.com/chris-alexander-pop/wsrouter/pubsub"
	"github.com/chris-alexander-pop/wsrouter/topics"
)

// DriverTopicAdapter bridges a pubsub.Driver's synchronous
// Subscribe/Unsubscribe (which never fail — they only mutate a local
// index) into the topics.Adapter contract the Topics subsystem expects.
// Platform adapters with a fallible native subscribe (e.g. a Durable
// Object forwarding call) implement topics.Adapter directly instead of
// going through this bridge.
type DriverTopicAdapter struct {
	Driver pubsub.Driver
}

func (a DriverTopicAdapter) Subscribe(_ context.Context, clientID, topic string) error {
	a.Driver.Subscribe(clientID, topic)
	return nil
}

func (a DriverTopicAdapter) Unsubscribe(_ context.Context, clientID, topic string) error {
	a.Driver.Unsubscribe(clientID, topic)
	return nil
}

var _ topics.Adapter = DriverTopicAdapter{}
