package pubsub

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans payloads out through Redis pub/sub so that every server
// process sees every event. Payloads must be one of the registered domain
// event types.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int

	mu     sync.Mutex
	counts map[Topic]int
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(client *redis.Client, prefix string, buffer int) *RedisBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		buffer: buffer,
		counts: make(map[Topic]int),
	}
}

func (b *RedisBus) channel(topic Topic) string {
	if b.prefix == "" {
		return string(topic)
	}
	return b.prefix + ":" + string(topic)
}

func (b *RedisBus) Publish(ctx context.Context, topic Topic, payload any) error {
	data, err := encode(topic, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so payloads
// published after it returns are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (<-chan any, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	b.track(topic, 1)
	out := make(chan any, b.buffer)

	go func() {
		defer close(out)
		defer b.track(topic, -1)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				payload, err := decode(topic, []byte(msg.Payload))
				if err != nil {
					log.Printf("pubsub: dropping message on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- payload:
				default:
					log.Printf("pubsub: evicting slow listener on %s", topic)
					return
				}
			}
		}
	}()

	return out, nil
}

// Listeners reports how many streams this process holds open for topic.
func (b *RedisBus) Listeners(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[topic]
}

func (b *RedisBus) track(topic Topic, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[topic] += delta
	if b.counts[topic] <= 0 {
		delete(b.counts, topic)
	}
}
