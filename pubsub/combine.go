package pubsub

import (
	"context"
	"sync"
)

// CombineConsumers wraps N BrokerConsumers into one (spec §4.4
// combineBrokers). Start brings each child up sequentially; if consumer k
// fails, consumers 1..k-1 are stopped in reverse order and the error is
// returned. The combined stop is idempotent and invokes every child stop
// exactly once, even if called concurrently.
func CombineConsumers(consumers ...BrokerConsumer) BrokerConsumer {
	return &combined{consumers: consumers}
}

type combined struct {
	consumers []BrokerConsumer
}

func (c *combined) Start(ctx context.Context, onMessage func(PublishEnvelope)) (func(), error) {
	started := make([]func(), 0, len(c.consumers))

	for _, consumer := range c.consumers {
		stop, err := consumer.Start(ctx, onMessage)
		if err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i]()
			}
			return nil, err
		}
		started = append(started, stop)
	}

	var once sync.Once
	stopAll := func() {
		once.Do(func() {
			for i := len(started) - 1; i >= 0; i-- {
				started[i]()
			}
		})
	}
	return stopAll, nil
}

var _ BrokerConsumer = (*combined)(nil)
