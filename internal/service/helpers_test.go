package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatgraph/internal/domain"
	"chatgraph/internal/pubsub"
	"chatgraph/internal/security"
	"chatgraph/internal/service"
	"chatgraph/internal/store/sqlite"
)

type published struct {
	Topic   pubsub.Topic
	Payload any
}

// recordingBus records every publish and forwards it to an in-memory bus so
// subscriptions keep working.
type recordingBus struct {
	*pubsub.MemoryBus

	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(ctx context.Context, topic pubsub.Topic, payload any) error {
	b.mu.Lock()
	b.events = append(b.events, published{Topic: topic, Payload: payload})
	b.mu.Unlock()
	return b.MemoryBus.Publish(ctx, topic, payload)
}

func (b *recordingBus) published(topic pubsub.Topic) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []any
	for _, e := range b.events {
		if e.Topic == topic {
			res = append(res, e.Payload)
		}
	}
	return res
}

func (b *recordingBus) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fixture struct {
	users *sqlite.UserRepo
	convs *sqlite.ConversationRepo
	parts *sqlite.ParticipantRepo
	msgs  *sqlite.MessageRepo
	bus   *recordingBus

	conversations *service.ConversationService
	messages      *service.MessageService
	subscriptions *service.SubscriptionService
	userSvc       *service.UserService
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("test-encryption-key"), nil)
	require.NoError(t, err)

	f := &fixture{
		users: sqlite.NewUserRepo(db),
		convs: sqlite.NewConversationRepo(db),
		parts: sqlite.NewParticipantRepo(db),
		msgs:  sqlite.NewMessageRepo(db),
		bus:   &recordingBus{MemoryBus: pubsub.NewMemoryBus(16)},
	}
	f.conversations = service.NewConversationService(f.convs, f.parts, f.users, f.bus, enc)
	f.messages = service.NewMessageService(f.convs, f.msgs, f.bus, enc, 100, 50)
	f.subscriptions = service.NewSubscriptionService(f.bus, f.convs, f.parts)
	f.userSvc = service.NewUserService(f.users)

	for _, id := range userIDs {
		name := id + "_name"
		require.NoError(t, f.users.Create(context.Background(), &domain.User{ID: id, Username: &name}))
	}
	return f
}

func as(userID string) context.Context {
	return security.WithUser(context.Background(), &domain.User{ID: userID})
}

// subscriber returns a cancellable context bound to userID.
func subscriber(t *testing.T, userID string) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(as(userID))
	t.Cleanup(cancel)
	return ctx
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func nothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %#v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fixture) createConversation(t *testing.T, caller string, others ...string) *domain.Conversation {
	t.Helper()
	conv, err := f.conversations.Create(as(caller), others)
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, sender, convID, msgID, body string) {
	t.Helper()
	require.NoError(t, f.messages.Send(as(sender), service.SendMessageInput{
		ID:             msgID,
		ConversationID: convID,
		SenderID:       sender,
		Body:           body,
	}))
}

func seenBy(conv *domain.Conversation) map[string]bool {
	res := make(map[string]bool, len(conv.Participants))
	for _, p := range conv.Participants {
		res[p.UserID] = p.HasSeenLatestMessage
	}
	return res
}
