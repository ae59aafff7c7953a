package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chatgraph/internal/domain"
	"chatgraph/internal/pubsub"
)

// SubscriptionService projects bus topics into per-user streams. Every stream
// only carries events the subscribing user is allowed to see, and ends when
// ctx is cancelled or the underlying bus stream closes.
type SubscriptionService struct {
	bus           pubsub.Bus
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
}

func NewSubscriptionService(
	bus pubsub.Bus,
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
) *SubscriptionService {
	return &SubscriptionService{
		bus:           bus,
		conversations: conversations,
		participants:  participants,
	}
}

// ConversationCreated streams new conversations the caller belongs to.
func (s *SubscriptionService) ConversationCreated(ctx context.Context) (<-chan *domain.Conversation, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.bus.Subscribe(ctx, pubsub.ConversationCreated)
	if err != nil {
		return nil, storeError("subscribe", err)
	}
	return project(ctx, in, func(ev *domain.ConversationCreatedEvent) (*domain.Conversation, bool) {
		if ev.Conversation == nil || !ev.Conversation.HasParticipant(caller.ID) {
			return nil, false
		}
		return ev.Conversation, true
	}), nil
}

// ConversationUpdated streams updates to conversations the caller belongs to,
// including the update that removes the caller.
func (s *SubscriptionService) ConversationUpdated(ctx context.Context) (<-chan *domain.ConversationUpdatedEvent, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.bus.Subscribe(ctx, pubsub.ConversationUpdated)
	if err != nil {
		return nil, storeError("subscribe", err)
	}
	return project(ctx, in, func(ev *domain.ConversationUpdatedEvent) (*domain.ConversationUpdatedEvent, bool) {
		return ev, ev.Concerns(caller.ID)
	}), nil
}

// ConversationDeleted streams every deletion. The payload is only an id, and
// clients ignore ids they do not hold.
func (s *SubscriptionService) ConversationDeleted(ctx context.Context) (<-chan *domain.ConversationDeletedEvent, error) {
	if _, err := currentUser(ctx); err != nil {
		return nil, err
	}
	in, err := s.bus.Subscribe(ctx, pubsub.ConversationDeleted)
	if err != nil {
		return nil, storeError("subscribe", err)
	}
	return project(ctx, in, func(ev *domain.ConversationDeletedEvent) (*domain.ConversationDeletedEvent, bool) {
		return ev, true
	}), nil
}

// MessageSent streams messages of one conversation. Membership is checked
// again for every message so a removed user stops receiving them.
func (s *SubscriptionService) MessageSent(ctx context.Context, conversationID string) (<-chan *domain.Message, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, storeError("get conversation", err)
	}
	if !conv.HasParticipant(caller.ID) {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", domain.ErrUnauthorized, conversationID)
	}

	in, err := s.bus.Subscribe(ctx, pubsub.MessageSent)
	if err != nil {
		return nil, storeError("subscribe", err)
	}
	return project(ctx, in, func(ev *domain.MessageSentEvent) (*domain.Message, bool) {
		if ev.Message == nil || ev.Message.ConversationID != conversationID {
			return nil, false
		}
		ok, err := s.participants.IsParticipant(ctx, conversationID, caller.ID)
		if err != nil {
			log.Printf("service: messageSent membership check for %s: %v", caller.ID, err)
			return nil, false
		}
		return ev.Message, ok
	}), nil
}

// project forwards payloads of type E for which keep reports true, converted
// to T. Payloads of other types are skipped.
func project[E, T any](ctx context.Context, in <-chan any, keep func(E) (T, bool)) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				ev, ok := raw.(E)
				if !ok {
					continue
				}
				v, ok := keep(ev)
				if !ok {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
