package graph_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/internal/domain"
	"chatgraph/internal/graph"
	"chatgraph/internal/pubsub"
	"chatgraph/internal/security"
	"chatgraph/internal/service"
	"chatgraph/internal/store/sqlite"
)

type env struct {
	schema *graphql.Schema
	bus    *pubsub.MemoryBus
	users  *sqlite.UserRepo
}

func newEnv(t *testing.T, userIDs ...string) *env {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("graph-test-key"), nil)
	require.NoError(t, err)

	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	bus := pubsub.NewMemoryBus(16)

	for _, id := range userIDs {
		name := id
		require.NoError(t, users.Create(context.Background(), &domain.User{ID: id, Username: &name}))
	}

	schema := graph.NewSchema(graph.NewResolver(
		service.NewUserService(users),
		service.NewConversationService(convs, parts, users, bus, enc),
		service.NewMessageService(convs, msgs, bus, enc, 1000, 100),
		service.NewSubscriptionService(bus, convs, parts),
	))
	return &env{schema: schema, bus: bus, users: users}
}

func as(userID string) context.Context {
	if userID == "" {
		return context.Background()
	}
	return security.WithUser(context.Background(), &domain.User{ID: userID})
}

func (e *env) exec(t *testing.T, user, query string, vars map[string]interface{}, out interface{}) []string {
	t.Helper()
	resp := e.schema.Exec(as(user), query, "", vars)
	var codes []string
	for _, qe := range resp.Errors {
		code, _ := qe.Extensions["code"].(string)
		codes = append(codes, code)
	}
	if out != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return codes
}

const createConversation = `mutation($ids: [String!]!) { createConversation(participantIds: $ids) { conversationId } }`

func (e *env) createConversation(t *testing.T, user string, ids ...string) string {
	t.Helper()
	var out struct {
		CreateConversation struct{ ConversationID string }
	}
	codes := e.exec(t, user, createConversation, map[string]interface{}{"ids": toAny(ids)}, &out)
	require.Empty(t, codes)
	return out.CreateConversation.ConversationID
}

func toAny(ids []string) []interface{} {
	res := make([]interface{}, len(ids))
	for i, id := range ids {
		res[i] = id
	}
	return res
}

const conversationQuery = `query($id: ID!) {
	conversation(id: $id) {
		id
		latestMessage { id body sender { id } }
		participants { user { id } hasSeenLatestMessage }
	}
}`

type conversationData struct {
	Conversation struct {
		ID            string
		LatestMessage *struct {
			ID     string
			Body   string
			Sender struct{ ID string }
		}
		Participants []struct {
			User                 struct{ ID string }
			HasSeenLatestMessage bool
		}
	}
}

func (d conversationData) seen() map[string]bool {
	res := map[string]bool{}
	for _, p := range d.Conversation.Participants {
		res[p.User.ID] = p.HasSeenLatestMessage
	}
	return res
}

func TestCreateConversationIncludesCaller(t *testing.T) {
	e := newEnv(t, "u1", "u2")
	id := e.createConversation(t, "u1", "u2")

	var out conversationData
	require.Empty(t, e.exec(t, "u1", conversationQuery, map[string]interface{}{"id": id}, &out))
	assert.Equal(t, map[string]bool{"u1": true, "u2": false}, out.seen())
	assert.Nil(t, out.Conversation.LatestMessage)
}

func TestSendThenReadFlow(t *testing.T) {
	e := newEnv(t, "a", "b")
	id := e.createConversation(t, "a", "b")

	send := `mutation($id: ID!, $c: ID!, $s: ID!, $b: String!) { sendMessage(id: $id, conversationId: $c, senderId: $s, body: $b) }`
	var sent struct{ SendMessage bool }
	require.Empty(t, e.exec(t, "a", send, map[string]interface{}{"id": "m1", "c": id, "s": "a", "b": "hi"}, &sent))
	assert.True(t, sent.SendMessage)

	var msgs struct {
		Messages []struct{ ID, Body string }
	}
	require.Empty(t, e.exec(t, "b", `query($c: ID!) { messages(conversationId: $c) { id body } }`, map[string]interface{}{"c": id}, &msgs))
	require.NotEmpty(t, msgs.Messages)
	assert.Equal(t, "m1", msgs.Messages[0].ID)
	assert.Equal(t, "hi", msgs.Messages[0].Body)

	var read struct{ MarkConversationAsRead bool }
	require.Empty(t, e.exec(t, "b", `mutation($u: ID!, $c: ID!) { markConversationAsRead(userId: $u, conversationId: $c) }`,
		map[string]interface{}{"u": "b", "c": id}, &read))
	assert.True(t, read.MarkConversationAsRead)

	var out conversationData
	require.Empty(t, e.exec(t, "a", conversationQuery, map[string]interface{}{"id": id}, &out))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, out.seen())
	require.NotNil(t, out.Conversation.LatestMessage)
	assert.Equal(t, "m1", out.Conversation.LatestMessage.ID)
	assert.Equal(t, "a", out.Conversation.LatestMessage.Sender.ID)

	// Replaying the same id is a conflict.
	codes := e.exec(t, "a", send, map[string]interface{}{"id": "m1", "c": id, "s": "a", "b": "again"}, nil)
	assert.Equal(t, []string{graph.CodeConflict}, codes)
}

func TestErrorCodes(t *testing.T) {
	e := newEnv(t, "u1", "u2", "u3")
	id := e.createConversation(t, "u1", "u2")

	assert.Equal(t, []string{graph.CodeUnauthorized},
		e.exec(t, "", createConversation, map[string]interface{}{"ids": toAny([]string{"u2"})}, nil))
	assert.Equal(t, []string{graph.CodeNotFound},
		e.exec(t, "u1", createConversation, map[string]interface{}{"ids": toAny([]string{"ghost"})}, nil))
	assert.Equal(t, []string{graph.CodeBadUserInput},
		e.exec(t, "u1", createConversation, map[string]interface{}{"ids": toAny([]string{"u1"})}, nil))
	assert.Equal(t, []string{graph.CodeUnauthorized},
		e.exec(t, "u3", conversationQuery, map[string]interface{}{"id": id}, nil))
	assert.Equal(t, []string{graph.CodeUnauthorized},
		e.exec(t, "u3", `mutation($c: ID!) { deleteConversation(conversationId: $c) }`, map[string]interface{}{"c": id}, nil))
}

func TestDeleteConversation(t *testing.T) {
	e := newEnv(t, "u1", "u2")
	id := e.createConversation(t, "u1", "u2")

	ctx, cancel := context.WithCancel(as("u2"))
	defer cancel()
	stream, err := e.schema.Subscribe(ctx, `subscription { conversationDeleted { id } }`, "", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.bus.Listeners(pubsub.ConversationDeleted) == 1 }, time.Second, 5*time.Millisecond)

	var out struct{ DeleteConversation bool }
	require.Empty(t, e.exec(t, "u1", `mutation($c: ID!) { deleteConversation(conversationId: $c) }`, map[string]interface{}{"c": id}, &out))
	assert.True(t, out.DeleteConversation)

	assert.Equal(t, []string{graph.CodeNotFound}, e.exec(t, "u1", conversationQuery, map[string]interface{}{"id": id}, nil))

	resp := nextResponse(t, stream)
	assert.JSONEq(t, `{"conversationDeleted":{"id":"`+id+`"}}`, string(resp.Data))
}

func TestUsernameAndSearch(t *testing.T) {
	e := newEnv(t, "taken")
	require.NoError(t, e.users.Create(context.Background(), &domain.User{ID: "fresh"}))

	var me struct{ Me *struct{ ID string } }
	require.Empty(t, e.exec(t, "", `{ me { id } }`, nil, &me))
	assert.Nil(t, me.Me)

	mutation := `mutation($u: String!) { createUsername(username: $u) { success error } }`
	var res struct {
		CreateUsername struct {
			Success bool
			Error   *string
		}
	}
	require.Empty(t, e.exec(t, "fresh", mutation, map[string]interface{}{"u": "taken"}, &res))
	assert.False(t, res.CreateUsername.Success)
	require.NotNil(t, res.CreateUsername.Error)
	assert.Contains(t, *res.CreateUsername.Error, "taken")

	require.Empty(t, e.exec(t, "fresh", mutation, map[string]interface{}{"u": "fresh_one"}, &res))
	assert.True(t, res.CreateUsername.Success)
	assert.Nil(t, res.CreateUsername.Error)

	var found struct {
		SearchUsers []struct {
			ID       string
			Username string
		}
	}
	require.Empty(t, e.exec(t, "taken", `{ searchUsers(username: "FRESH") { id username } }`, nil, &found))
	require.Len(t, found.SearchUsers, 1)
	assert.Equal(t, "fresh_one", found.SearchUsers[0].Username)
}

func TestMessageSentSubscription(t *testing.T) {
	e := newEnv(t, "u1", "u2", "u3")
	id := e.createConversation(t, "u1", "u2")

	ctx, cancel := context.WithCancel(as("u2"))
	defer cancel()
	stream, err := e.schema.Subscribe(ctx, `subscription($c: ID!) { messageSent(conversationId: $c) { id body sender { id } } }`, "",
		map[string]interface{}{"c": id})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.bus.Listeners(pubsub.MessageSent) == 1 }, time.Second, 5*time.Millisecond)

	send := `mutation($id: ID!, $c: ID!) { sendMessage(id: $id, conversationId: $c, senderId: "u1", body: "yo") }`
	require.Empty(t, e.exec(t, "u1", send, map[string]interface{}{"id": "m1", "c": id}, nil))

	resp := nextResponse(t, stream)
	assert.JSONEq(t, `{"messageSent":{"id":"m1","body":"yo","sender":{"id":"u1"}}}`, string(resp.Data))

	// Non-participants are turned away with an error.
	denied, err := e.schema.Subscribe(as("u3"), `subscription($c: ID!) { messageSent(conversationId: $c) { id } }`, "",
		map[string]interface{}{"c": id})
	require.NoError(t, err)
	resp = nextResponse(t, denied)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, graph.CodeUnauthorized, resp.Errors[0].Extensions["code"])
}

func TestSubscriptionFailuresCarryCodes(t *testing.T) {
	e := newEnv(t, "u1")

	tests := []struct {
		name  string
		user  string
		query string
		vars  map[string]interface{}
		code  string
	}{
		{"anonymous created", "", `subscription { conversationCreated { id } }`, nil, graph.CodeUnauthorized},
		{"anonymous deleted", "", `subscription { conversationDeleted { id } }`, nil, graph.CodeUnauthorized},
		{"anonymous updated", "", `subscription { conversationUpdated { conversation { id } } }`, nil, graph.CodeUnauthorized},
		{"missing conversation", "u1", `subscription($c: ID!) { messageSent(conversationId: $c) { id } }`,
			map[string]interface{}{"c": "missing"}, graph.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := e.schema.Subscribe(as(tt.user), tt.query, "", tt.vars)
			require.NoError(t, err)
			resp := nextResponse(t, stream)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, tt.code, resp.Errors[0].Extensions["code"])
			assert.NotEmpty(t, resp.Errors[0].Message)
		})
	}
	assert.Zero(t, e.bus.Listeners(pubsub.ConversationCreated))
}

func nextResponse(t *testing.T, stream <-chan interface{}) *graphql.Response {
	t.Helper()
	select {
	case v, ok := <-stream:
		require.True(t, ok, "subscription closed")
		resp, ok := v.(*graphql.Response)
		require.True(t, ok)
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription event")
		return nil
	}
}
