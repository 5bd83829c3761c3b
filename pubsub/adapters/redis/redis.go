// Package redis implements a federated pubsub.Driver and BrokerConsumer
// over Redis PUBLISH/PSUBSCRIBE, grounded on the teacher library's
// pkg/api/ratelimit/adapters/redis (Lua-script rigor) and on the
// PSUBSCRIBE-pattern consumer shown in the pack's WebSocket notification
// service (smap-hcmut-notification-srv/websocket/internal/redis/subscriber.go).
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
)

// Config configures the Redis driver.
type Config struct {
	// Prefix is prepended to every channel name (spec §3, §4.4).
	Prefix string
}

// Driver publishes to Redis and maintains the local subscription index
// for this instance's own delivery (spec §4.4: "local fan-out regardless
// of backend").
type Driver struct {
	client goredis.UniversalClient
	index  *pubsub.Index
	sender pubsub.LocalSender
	prefix string
}

// New creates a Redis-backed driver.
func New(client goredis.UniversalClient, sender pubsub.LocalSender, cfg Config) *Driver {
	return &Driver{client: client, index: pubsub.NewIndex(), sender: sender, prefix: cfg.Prefix}
}

func (d *Driver) channel(topic string) string { return d.prefix + topic }

func (d *Driver) Subscribe(clientID, topic string)         { d.index.Subscribe(clientID, topic) }
func (d *Driver) Unsubscribe(clientID, topic string)       { d.index.Unsubscribe(clientID, topic) }
func (d *Driver) GetLocalSubscribers(topic string) []string { return d.index.GetLocalSubscribers(topic) }
func (d *Driver) ListTopics() []string                      { return d.index.ListTopics() }
func (d *Driver) HasTopic(topic string) bool                { return d.index.HasTopic(topic) }

// Publish serializes env and PUBLISHes it to the prefixed channel. Local
// fan-out also happens immediately so this instance's own subscribers
// don't wait on the broker round-trip. Redis errors are logged, not
// returned: capability is reported "unknown" precisely because this
// driver cannot promise the publish reached every instance (spec §4.4).
func (d *Driver) Publish(ctx context.Context, env pubsub.PublishEnvelope, _ pubsub.PublishOptions) (pubsub.PublishResult, error) {
	matchedLocal := len(d.index.GetLocalSubscribers(env.Topic))

	frame, err := pubsub.JSONEncoder{}.Encode(env)
	if err != nil {
		return pubsub.PublishResult{}, err
	}

	for _, clientID := range d.index.GetLocalSubscribers(env.Topic) {
		if sendErr := d.sender.SendToClient(ctx, clientID, frame); sendErr != nil {
			obslog.L().WarnContext(ctx, "pubsub(redis): local delivery failed", "topic", env.Topic, "client_id", clientID, "error", sendErr)
		}
	}

	if err := d.client.Publish(ctx, d.channel(env.Topic), frame).Err(); err != nil {
		obslog.L().ErrorContext(ctx, "pubsub(redis): publish failed", "topic", env.Topic, "error", err)
	}

	return pubsub.PublishResult{OK: true, Capability: pubsub.CapabilityUnknown, MatchedLocal: matchedLocal}, nil
}

// Healthy pings the Redis connection.
func (d *Driver) Healthy(ctx context.Context) bool {
	return d.client.Ping(ctx).Err() == nil
}

// Consumer subscribes to prefix* via PSUBSCRIBE and decodes every message
// into a PublishEnvelope for delivery into a Driver's local fan-out (spec
// §4.4: "per-topic subscription mode is optional; pattern subscription is
// the only mode implemented", §9 open question).
type Consumer struct {
	client goredis.UniversalClient
	prefix string
}

// NewConsumer creates a pattern-subscribing broker consumer.
func NewConsumer(client goredis.UniversalClient, cfg Config) *Consumer {
	return &Consumer{client: client, prefix: cfg.Prefix}
}

// Start subscribes PSUBSCRIBE prefix* and invokes onMessage for each
// decoded envelope. Decode errors on a single frame are logged and
// dropped; they never kill the subscription (spec §4.4). stop is
// idempotent.
func (c *Consumer) Start(ctx context.Context, onMessage func(pubsub.PublishEnvelope)) (func(), error) {
	pattern := c.prefix + "*"
	ps := c.client.PSubscribe(ctx, pattern)

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub(redis): psubscribe %q: %w", pattern, err)
	}

	ch := ps.Channel()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := pubsub.JSONEncoder{}.Decode([]byte(msg.Payload))
				if err != nil {
					obslog.L().WarnContext(ctx, "pubsub(redis): dropping undecodable broker frame", "channel", msg.Channel, "error", err)
					continue
				}
				onMessage(env)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return stop, nil
}

var (
	_ pubsub.Driver         = (*Driver)(nil)
	_ pubsub.BrokerConsumer = (*Consumer)(nil)
)
