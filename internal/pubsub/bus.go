// Package pubsub fans change events out from mutations to live subscriptions.
package pubsub

import (
	"context"
	"errors"
)

// Topic names one event stream on the bus.
type Topic string

const (
	ConversationCreated Topic = "CONVERSATION_CREATED"
	ConversationUpdated Topic = "CONVERSATION_UPDATED"
	ConversationDeleted Topic = "CONVERSATION_DELETED"
	MessageSent         Topic = "MESSAGE_SENT"
)

// ErrClosed is returned by buses that have been shut down.
var ErrClosed = errors.New("pubsub: bus closed")

// Bus delivers every published payload to each listener registered for the
// topic at publish time. Delivery is at-most-once, in publish order per
// topic, with no replay of earlier payloads.
//
// The stream returned by Subscribe is closed when ctx is cancelled or when
// the listener falls too far behind and is evicted.
type Bus interface {
	Publish(ctx context.Context, topic Topic, payload any) error
	Subscribe(ctx context.Context, topic Topic) (<-chan any, error)
}
