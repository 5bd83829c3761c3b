// Package memory implements an in-process pubsub.Driver: local fan-out
// only, exact capability, no broker. Grounded on the teacher library's
// pkg/messaging/adapters/memory and pkg/cache/adapters/memory pattern of
// a zero-external-dependency reference adapter.
package memory

import (
	"context"

	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
)

// Driver is the in-memory pub/sub driver: correct and fast for a single
// process, exact match accounting, no cross-instance federation.
type Driver struct {
	index  *pubsub.Index
	sender pubsub.LocalSender
}

// New creates an in-memory driver delivering matched publishes via sender.
func New(sender pubsub.LocalSender) *Driver {
	return &Driver{index: pubsub.NewIndex(), sender: sender}
}

func (d *Driver) Subscribe(clientID, topic string)          { d.index.Subscribe(clientID, topic) }
func (d *Driver) Unsubscribe(clientID, topic string)         { d.index.Unsubscribe(clientID, topic) }
func (d *Driver) GetLocalSubscribers(topic string) []string  { return d.index.GetLocalSubscribers(topic) }
func (d *Driver) ListTopics() []string                       { return d.index.ListTopics() }
func (d *Driver) HasTopic(topic string) bool                 { return d.index.HasTopic(topic) }

// Publish delivers env to every local subscriber of env.Topic. Delivery is
// best-effort: a send failure on one socket is logged and does not abort
// delivery to the rest (spec §4.4).
func (d *Driver) Publish(ctx context.Context, env pubsub.PublishEnvelope, _ pubsub.PublishOptions) (pubsub.PublishResult, error) {
	subscribers := d.index.GetLocalSubscribers(env.Topic)
	matched := len(subscribers)

	frame, err := pubsub.JSONEncoder{}.Encode(env)
	if err != nil {
		return pubsub.PublishResult{}, err
	}

	for _, clientID := range subscribers {
		if sendErr := d.sender.SendToClient(ctx, clientID, frame); sendErr != nil {
			obslog.L().WarnContext(ctx, "pubsub: local delivery failed", "topic", env.Topic, "client_id", clientID, "error", sendErr)
		}
	}

	return pubsub.PublishResult{
		OK:           true,
		Capability:   pubsub.CapabilityExact,
		Matched:      &matched,
		MatchedLocal: matched,
	}, nil
}

// Healthy is always true: there is no external backend to fail.
func (d *Driver) Healthy(context.Context) bool { return true }

var _ pubsub.Driver = (*Driver)(nil)
