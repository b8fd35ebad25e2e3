package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one decoded fleet message. Handlers run synchronously
// on the router's consume loop, matching the teacher's messaging.Handler
// shape (internal/messaging/consumer.go in the reference pack).
type Handler[T any] func(ctx context.Context, payload *T) error

// Publish marshals and publishes one typed payload to a channel.
type Publish[T any] func(ctx context.Context, payload *T) error

// FleetBus is the Watermill-backed adapter for the channels in §4.1. A
// Redis Stream consumer group is created per-instance with a unique
// consumer name so that — unlike the teacher's analytics pipeline, where
// competing consumers share work — every instance in the fleet observes
// every message (broadcast semantics layered on top of streams).
type FleetBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *zap.Logger
	cancels    []context.CancelFunc
	dones      []chan struct{}
}

// NewFleetBus builds the publisher and subscriber over a shared Redis
// client. instanceID seeds the consumer group so this instance's stream
// position is independent of every other instance's.
func NewFleetBus(client *redis.Client, instanceID string, logger *zap.Logger) (*FleetBus, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("new fleet publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: "instance-" + instanceID,
			Consumer:      instanceID,
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("new fleet subscriber: %w", err)
	}

	return &FleetBus{publisher: publisher, subscriber: subscriber, logger: logger}, nil
}

// PublishFunc returns a typed publish closure for one channel, mirroring
// messaging.NewPublishFunc in the reference pack.
func PublishFunc[T any](bus *FleetBus, channel string) Publish[T] {
	return func(_ context.Context, payload *T) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", channel, err)
		}

		msg := message.NewMessage(watermill.NewUUID(), data)

		return bus.publisher.Publish(channel, msg)
	}
}

// Subscribe starts a consume loop for one channel, decoding each message
// as T and invoking handler. Decode or handler failures Nack the message;
// per §4.1 there is no durable queue, so a Nack simply drops it — the
// heartbeat/reconciliation safety net is what recovers from loss.
func Subscribe[T any](ctx context.Context, bus *FleetBus, channel string, handler Handler[T]) error {
	subCtx, cancel := context.WithCancel(ctx)

	msgs, err := bus.subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()

		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	bus.cancels = append(bus.cancels, cancel)
	bus.dones = append(bus.dones, done)

	go func() {
		defer close(done)

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				consumeOne(subCtx, bus, channel, handler, msg)
			}
		}
	}()

	return nil
}

func consumeOne[T any](ctx context.Context, bus *FleetBus, channel string, handler Handler[T], msg *message.Message) {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		bus.logger.Error("failed to unmarshal fleet message",
			zap.String("channel", channel), zap.Error(err))
		msg.Nack()

		return
	}

	if err := handler(ctx, &payload); err != nil {
		bus.logger.Error("failed to handle fleet message",
			zap.String("channel", channel), zap.Error(err))
		msg.Nack()

		return
	}

	msg.Ack()
}

// Shutdown cancels every subscription loop and closes both connections.
func (b *FleetBus) Shutdown() error {
	for _, cancel := range b.cancels {
		cancel()
	}

	for _, done := range b.dones {
		<-done
	}

	var firstErr error
	if err := b.subscriber.Close(); err != nil {
		firstErr = err
	}

	if err := b.publisher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
