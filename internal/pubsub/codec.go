package pubsub

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"chatgraph/internal/domain"
)

// envelope is the wire form of a payload crossing process boundaries.
type envelope struct {
	Topic string `msgpack:"t"`
	Data  []byte `msgpack:"d"`
}

var payloadTypes = map[Topic]func() any{
	ConversationCreated: func() any { return &domain.ConversationCreatedEvent{} },
	ConversationUpdated: func() any { return &domain.ConversationUpdatedEvent{} },
	ConversationDeleted: func() any { return &domain.ConversationDeletedEvent{} },
	MessageSent:         func() any { return &domain.MessageSentEvent{} },
}

func encode(topic Topic, payload any) ([]byte, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return msgpack.Marshal(&envelope{Topic: string(topic), Data: data})
}

func decode(topic Topic, raw []byte) (any, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if Topic(env.Topic) != topic {
		return nil, fmt.Errorf("decode: envelope topic %q on channel for %q", env.Topic, topic)
	}
	newPayload, ok := payloadTypes[topic]
	if !ok {
		return nil, fmt.Errorf("decode: no payload type registered for %q", topic)
	}
	payload := newPayload()
	if err := msgpack.Unmarshal(env.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", topic, err)
	}
	return payload, nil
}
