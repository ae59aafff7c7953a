package graph

import (
	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/domain"
)

type UserResolver struct{ u *domain.User }

func (r *UserResolver) ID() graphql.ID    { return graphql.ID(r.u.ID) }
func (r *UserResolver) Username() *string { return r.u.Username }
func (r *UserResolver) Email() *string    { return r.u.Email }
func (r *UserResolver) Name() *string     { return r.u.Name }
func (r *UserResolver) Image() *string    { return r.u.Image }

type SearchedUserResolver struct{ u *domain.User }

func (r *SearchedUserResolver) ID() graphql.ID    { return graphql.ID(r.u.ID) }
func (r *SearchedUserResolver) Username() *string { return r.u.Username }

type MessageResolver struct{ m *domain.Message }

func (r *MessageResolver) ID() graphql.ID             { return graphql.ID(r.m.ID) }
func (r *MessageResolver) Body() string               { return r.m.Body }
func (r *MessageResolver) ConversationID() graphql.ID { return graphql.ID(r.m.ConversationID) }
func (r *MessageResolver) CreatedAt() graphql.Time    { return graphql.Time{Time: r.m.CreatedAt} }
func (r *MessageResolver) UpdatedAt() graphql.Time    { return graphql.Time{Time: r.m.UpdatedAt} }

func (r *MessageResolver) Sender() *UserResolver {
	if r.m.Sender == nil {
		return &UserResolver{&domain.User{ID: r.m.SenderID}}
	}
	return &UserResolver{r.m.Sender}
}

type ParticipantResolver struct{ p *domain.Participant }

func (r *ParticipantResolver) ID() graphql.ID             { return graphql.ID(r.p.ID) }
func (r *ParticipantResolver) HasSeenLatestMessage() bool { return r.p.HasSeenLatestMessage }

func (r *ParticipantResolver) User() *UserResolver {
	if r.p.User == nil {
		return &UserResolver{&domain.User{ID: r.p.UserID}}
	}
	return &UserResolver{r.p.User}
}

type ConversationResolver struct{ c *domain.Conversation }

func (r *ConversationResolver) ID() graphql.ID          { return graphql.ID(r.c.ID) }
func (r *ConversationResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.c.CreatedAt} }
func (r *ConversationResolver) UpdatedAt() graphql.Time { return graphql.Time{Time: r.c.UpdatedAt} }

func (r *ConversationResolver) LatestMessage() *MessageResolver {
	if r.c.LatestMessage == nil {
		return nil
	}
	return &MessageResolver{r.c.LatestMessage}
}

func (r *ConversationResolver) Participants() []*ParticipantResolver {
	res := make([]*ParticipantResolver, 0, len(r.c.Participants))
	for _, p := range r.c.Participants {
		res = append(res, &ParticipantResolver{p})
	}
	return res
}

type CreateConversationResponse struct{ id string }

func (r *CreateConversationResponse) ConversationID() graphql.ID { return graphql.ID(r.id) }

type CreateUsernameResponse struct {
	success bool
	err     *string
}

func (r *CreateUsernameResponse) Success() *bool { return &r.success }
func (r *CreateUsernameResponse) Error() *string { return r.err }

type ConversationUpdatedResolver struct{ ev *domain.ConversationUpdatedEvent }

func (r *ConversationUpdatedResolver) Conversation() *ConversationResolver {
	return &ConversationResolver{r.ev.Conversation}
}

func (r *ConversationUpdatedResolver) AddedUserIDs() *[]string   { return optionalList(r.ev.AddedUserIDs) }
func (r *ConversationUpdatedResolver) RemovedUserIDs() *[]string { return optionalList(r.ev.RemovedUserIDs) }

type ConversationDeletedResolver struct{ ev *domain.ConversationDeletedEvent }

func (r *ConversationDeletedResolver) ID() graphql.ID { return graphql.ID(r.ev.ID) }

func optionalList(ids []string) *[]string {
	if ids == nil {
		return nil
	}
	return &ids
}

func wrapConversations(cs []*domain.Conversation) []*ConversationResolver {
	res := make([]*ConversationResolver, 0, len(cs))
	for _, c := range cs {
		res = append(res, &ConversationResolver{c})
	}
	return res
}

func wrapMessages(ms []*domain.Message) []*MessageResolver {
	res := make([]*MessageResolver, 0, len(ms))
	for _, m := range ms {
		res = append(res, &MessageResolver{m})
	}
	return res
}
