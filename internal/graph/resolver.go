// Package graph exposes the chat services as a GraphQL schema.
package graph

import (
	_ "embed"

	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/service"
)

//go:embed schema.graphql
var schemaSDL string

// Resolver is the root resolver for queries, mutations and subscriptions.
// The authenticated user is read from the request context.
type Resolver struct {
	users         *service.UserService
	conversations *service.ConversationService
	messages      *service.MessageService
	subscriptions *service.SubscriptionService
}

func NewResolver(
	users *service.UserService,
	conversations *service.ConversationService,
	messages *service.MessageService,
	subscriptions *service.SubscriptionService,
) *Resolver {
	return &Resolver{
		users:         users,
		conversations: conversations,
		messages:      messages,
		subscriptions: subscriptions,
	}
}

// NewSchema parses the chat schema against r. It panics on schema errors,
// which are programming errors.
func NewSchema(r *Resolver) *graphql.Schema {
	return graphql.MustParseSchema(schemaSDL, r, graphql.MaxDepth(12))
}
