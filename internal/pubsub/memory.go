package pubsub

import (
	"context"
	"log"
	"sync"
)

const defaultBuffer = 64

type listener struct {
	ch chan any
}

// MemoryBus is an in-process Bus. It only reaches subscribers in the same
// process.
type MemoryBus struct {
	mu        sync.Mutex
	buffer    int
	closed    bool
	listeners map[Topic]map[*listener]struct{}
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates a bus whose listeners each buffer up to buffer
// undelivered payloads.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryBus{
		buffer:    buffer,
		listeners: make(map[Topic]map[*listener]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic Topic, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for l := range b.listeners[topic] {
		select {
		case l.ch <- payload:
		default:
			// A slow listener is dropped rather than blocking the publisher.
			log.Printf("pubsub: evicting slow listener on %s", topic)
			b.removeLocked(topic, l)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic) (<-chan any, error) {
	l := &listener{ch: make(chan any, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[*listener]struct{})
	}
	b.listeners[topic][l] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.removeLocked(topic, l)
		b.mu.Unlock()
	}()

	return l.ch, nil
}

// Listeners reports how many listeners are registered for topic.
func (b *MemoryBus) Listeners(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}

// Close ends every open stream. Later calls to Publish and Subscribe fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for topic, ls := range b.listeners {
		for l := range ls {
			b.removeLocked(topic, l)
		}
	}
	return nil
}

// removeLocked unregisters l and closes its stream exactly once.
func (b *MemoryBus) removeLocked(topic Topic, l *listener) {
	ls, ok := b.listeners[topic]
	if !ok {
		return
	}
	if _, ok := ls[l]; !ok {
		return
	}
	delete(ls, l)
	if len(ls) == 0 {
		delete(b.listeners, topic)
	}
	close(l.ch)
}
