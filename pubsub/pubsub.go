// Package pubsub defines the driver and broker-consumer contracts for
// per-topic broadcast fan-out, optionally federated across instances
// (spec §4.4). Core interfaces are zero-dependency; concrete drivers live
// in pubsub/adapters/{memory,redis}, mirroring the teacher library's
// pkg/messaging adapter split.
package pubsub

import "context"

// Capability reports how precisely a driver can account for a publish's
// reach.
type Capability string

const (
	// CapabilityExact means Matched is an exact subscriber count
	// (in-memory, single-instance drivers).
	CapabilityExact Capability = "exact"
	CapabilityEstimate Capability = "estimate"
	// CapabilityUnknown means only MatchedLocal (this instance's local
	// fan-out) is known; the driver cannot see other instances'
	// subscribers (distributed drivers: Redis broadcast, Durable
	// Objects).
	CapabilityUnknown Capability = "unknown"
)

// PublishEnvelope is the broker wire form (spec §3).
type PublishEnvelope struct {
	Topic   string
	Payload any
	Meta    map[string]any
}

// PublishResult is returned by Driver.Publish.
type PublishResult struct {
	OK           bool
	Capability   Capability
	Matched      *int // nil unless Capability == exact/estimate
	MatchedLocal int
}

// PublishOptions reserved for future per-publish tuning; currently empty.
type PublishOptions struct{}

// LocalSender delivers an already-encoded frame to one connection, by
// clientID, on this instance. The router's connection registry implements
// this; drivers encode the frame (via an Encoder) before handing it over.
type LocalSender interface {
	SendToClient(ctx context.Context, clientID string, frame []byte) error
}

// Encoder turns a PublishEnvelope into wire bytes for both local delivery
// and broker transport. The default is JSON (spec §3).
type Encoder interface {
	Encode(env PublishEnvelope) ([]byte, error)
	Decode(data []byte) (PublishEnvelope, error)
}

// Driver is the pluggable pub/sub backend contract (spec §4.4). Every
// driver owns a local subscription index used for local fan-out
// regardless of backend.
type Driver interface {
	// Publish writes one envelope: local fan-out plus (for federated
	// drivers) a broker send.
	Publish(ctx context.Context, env PublishEnvelope, opts PublishOptions) (PublishResult, error)
	// Subscribe/Unsubscribe maintain the local subscription index.
	Subscribe(clientID, topic string)
	Unsubscribe(clientID, topic string)
	// GetLocalSubscribers returns the clientIDs currently subscribed to
	// topic on this instance.
	GetLocalSubscribers(topic string) []string
	// ListTopics and HasTopic are optional per spec but implemented by
	// every driver here (teacher convention: adapters implement their
	// full declared surface).
	ListTopics() []string
	HasTopic(topic string) bool
}

// BrokerConsumer is the broker-side object that receives external frames
// and injects them into a driver's local fan-out (spec §4.4).
type BrokerConsumer interface {
	// Start subscribes to the external broker and invokes onMessage for
	// every decoded envelope. The returned stop func is idempotent.
	Start(ctx context.Context, onMessage func(PublishEnvelope)) (stop func(), err error)
}
