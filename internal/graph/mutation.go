package graph

import (
	"context"
	"errors"

	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/domain"
	"chatgraph/internal/service"
)

// CreateUsername reports validation and conflict failures in the response
// body rather than as GraphQL errors.
func (r *Resolver) CreateUsername(ctx context.Context, args struct{ Username string }) (*CreateUsernameResponse, error) {
	err := r.users.CreateUsername(ctx, args.Username)
	switch {
	case err == nil:
		return &CreateUsernameResponse{success: true}, nil
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrConflict):
		msg := err.Error()
		return &CreateUsernameResponse{success: false, err: &msg}, nil
	default:
		return nil, toError(err)
	}
}

func (r *Resolver) CreateConversation(ctx context.Context, args struct{ ParticipantIDs []string }) (*CreateConversationResponse, error) {
	conv, err := r.conversations.Create(ctx, args.ParticipantIDs)
	if err != nil {
		return nil, toError(err)
	}
	return &CreateConversationResponse{id: conv.ID}, nil
}

func (r *Resolver) SendMessage(ctx context.Context, args struct {
	ID             graphql.ID
	ConversationID graphql.ID
	SenderID       graphql.ID
	Body           string
}) (bool, error) {
	err := r.messages.Send(ctx, service.SendMessageInput{
		ID:             string(args.ID),
		ConversationID: string(args.ConversationID),
		SenderID:       string(args.SenderID),
		Body:           args.Body,
	})
	if err != nil {
		return false, toError(err)
	}
	return true, nil
}

func (r *Resolver) MarkConversationAsRead(ctx context.Context, args struct {
	UserID         graphql.ID
	ConversationID graphql.ID
}) (bool, error) {
	if err := r.conversations.MarkAsRead(ctx, string(args.UserID), string(args.ConversationID)); err != nil {
		return false, toError(err)
	}
	return true, nil
}

func (r *Resolver) UpdateParticipants(ctx context.Context, args struct {
	ConversationID graphql.ID
	ParticipantIDs []string
}) (bool, error) {
	if err := r.conversations.UpdateParticipants(ctx, string(args.ConversationID), args.ParticipantIDs); err != nil {
		return false, toError(err)
	}
	return true, nil
}

func (r *Resolver) DeleteConversation(ctx context.Context, args struct{ ConversationID graphql.ID }) (bool, error) {
	if err := r.conversations.Delete(ctx, string(args.ConversationID)); err != nil {
		return false, toError(err)
	}
	return true, nil
}
