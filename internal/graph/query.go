package graph

import (
	"context"
	"errors"

	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/domain"
)

// Me resolves to null for anonymous requests.
func (r *Resolver) Me(ctx context.Context) (*UserResolver, error) {
	u, err := r.users.Me(ctx)
	if errors.Is(err, domain.ErrUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, toError(err)
	}
	return &UserResolver{u}, nil
}

func (r *Resolver) SearchUsers(ctx context.Context, args struct{ Username string }) ([]*SearchedUserResolver, error) {
	users, err := r.users.Search(ctx, args.Username)
	if err != nil {
		return nil, toError(err)
	}
	res := make([]*SearchedUserResolver, 0, len(users))
	for _, u := range users {
		res = append(res, &SearchedUserResolver{u})
	}
	return res, nil
}

func (r *Resolver) Conversations(ctx context.Context) ([]*ConversationResolver, error) {
	convs, err := r.conversations.List(ctx)
	if err != nil {
		return nil, toError(err)
	}
	return wrapConversations(convs), nil
}

func (r *Resolver) Conversation(ctx context.Context, args struct{ ID graphql.ID }) (*ConversationResolver, error) {
	conv, err := r.conversations.Get(ctx, string(args.ID))
	if err != nil {
		return nil, toError(err)
	}
	return &ConversationResolver{conv}, nil
}

// Messages returns the newest page of the conversation, newest first.
func (r *Resolver) Messages(ctx context.Context, args struct{ ConversationID graphql.ID }) ([]*MessageResolver, error) {
	msgs, err := r.messages.List(ctx, string(args.ConversationID))
	if err != nil {
		return nil, toError(err)
	}
	return wrapMessages(msgs), nil
}
