package graph

import (
	"context"

	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/domain"
)

func (r *Resolver) ConversationCreated(ctx context.Context) (<-chan *ConversationResolver, error) {
	in, err := r.subscriptions.ConversationCreated(ctx)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(c *domain.Conversation) *ConversationResolver {
		return &ConversationResolver{c}
	}), nil
}

func (r *Resolver) ConversationUpdated(ctx context.Context) (<-chan *ConversationUpdatedResolver, error) {
	in, err := r.subscriptions.ConversationUpdated(ctx)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(ev *domain.ConversationUpdatedEvent) *ConversationUpdatedResolver {
		return &ConversationUpdatedResolver{ev}
	}), nil
}

func (r *Resolver) ConversationDeleted(ctx context.Context) (<-chan *ConversationDeletedResolver, error) {
	in, err := r.subscriptions.ConversationDeleted(ctx)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(ev *domain.ConversationDeletedEvent) *ConversationDeletedResolver {
		return &ConversationDeletedResolver{ev}
	}), nil
}

func (r *Resolver) MessageSent(ctx context.Context, args struct{ ConversationID graphql.ID }) (<-chan *MessageResolver, error) {
	in, err := r.subscriptions.MessageSent(ctx, string(args.ConversationID))
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(m *domain.Message) *MessageResolver {
		return &MessageResolver{m}
	}), nil
}

func forward[T, R any](ctx context.Context, in <-chan T, wrap func(T) R) <-chan R {
	out := make(chan R)
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- wrap(v):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
