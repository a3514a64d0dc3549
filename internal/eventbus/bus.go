// Package eventbus carries job lifecycle events over a single Redis pub/sub
// channel. Delivery is best-effort: messages published while nobody is
// subscribed are lost.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/apperrors"
	"github.com/modeltrainer/api/internal/model"
)

// ErrDecode marks a received message that is not a valid event. The stream
// remains usable after it.
var ErrDecode = errors.New("eventbus: undecodable message")

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Subscriber opens event streams
type Subscriber interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream yields events in the order they were published on the channel
type Stream interface {
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// PublishRecorder is an optional metrics hook
type PublishRecorder interface {
	RecordEventPublished(ctx context.Context, eventType string)
}

// RedisBus implements Publisher and Subscriber on one channel
type RedisBus struct {
	redis   *redis.Client
	channel string
	metrics PublishRecorder
}

// NewRedisBus creates a bus on channel
func NewRedisBus(redisClient *redis.Client, channel string, metrics PublishRecorder) *RedisBus {
	return &RedisBus{
		redis:   redisClient,
		channel: channel,
		metrics: metrics,
	}
}

// Publish sends ev without waiting for any subscriber
func (b *RedisBus) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return apperrors.Transport("publish", err)
	}
	if b.metrics != nil {
		b.metrics.RecordEventPublished(ctx, string(ev.Type))
	}
	return nil
}

// Subscribe opens a subscription and waits for the broker to confirm it
func (b *RedisBus) Subscribe(ctx context.Context) (Stream, error) {
	ps := b.redis.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, apperrors.Transport("subscribe", err)
	}
	return &redisStream{pubsub: ps}, nil
}

type redisStream struct {
	pubsub *redis.PubSub
}

// Next blocks until a message arrives, ctx ends, or the connection fails
func (s *redisStream) Next(ctx context.Context) (model.Event, error) {
	// The blocking read ignores cancellation; closing the subscription
	// unblocks it.
	stop := context.AfterFunc(ctx, func() { s.pubsub.Close() })
	defer stop()

	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return model.Event{}, ctx.Err()
		}
		return model.Event{}, apperrors.Transport("receive", err)
	}
	return Decode([]byte(msg.Payload))
}

func (s *redisStream) Close() error {
	return s.pubsub.Close()
}

// Decode parses a bus payload
func Decode(data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if ev.JobID == "" {
		return model.Event{}, fmt.Errorf("%w: missing job_id", ErrDecode)
	}
	switch ev.Type {
	case model.EventTypeProgress, model.EventTypeSuccess, model.EventTypeFailure, model.EventTypeRevoked:
	default:
		return model.Event{}, fmt.Errorf("%w: unknown type %q", ErrDecode, ev.Type)
	}
	return ev, nil
}
