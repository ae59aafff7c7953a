package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/internal/domain"
	"chatgraph/internal/store/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func seedUsers(t *testing.T, users *sqlite.UserRepo, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, users.Create(context.Background(), &domain.User{ID: id, Username: strPtr(id + "_name")}))
	}
}

func seedConversation(t *testing.T, convs *sqlite.ConversationRepo, id string, seenBy string, userIDs ...string) {
	t.Helper()
	var parts []*domain.Participant
	for _, uid := range userIDs {
		parts = append(parts, &domain.Participant{ID: id + "-" + uid, UserID: uid, HasSeenLatestMessage: uid == seenBy})
	}
	require.NoError(t, convs.Create(context.Background(), &domain.Conversation{ID: id}, parts))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, sqlite.Migrate(db))
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	users := sqlite.NewUserRepo(openTestDB(t))

	require.NoError(t, users.Create(ctx, &domain.User{ID: "u1", Email: strPtr("u1@example.com")}))
	require.NoError(t, users.Create(ctx, &domain.User{ID: "u2"}))
	assert.ErrorIs(t, users.Create(ctx, &domain.User{ID: "u1"}), domain.ErrConflict)

	u, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u.Username)
	assert.Equal(t, "u1@example.com", *u.Email)

	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, users.SetUsername(ctx, "u1", "Alice"))
	assert.ErrorIs(t, users.SetUsername(ctx, "u2", "Alice"), domain.ErrConflict)
	assert.ErrorIs(t, users.SetUsername(ctx, "nobody", "Bob"), domain.ErrNotFound)
	require.NoError(t, users.SetUsername(ctx, "u2", "alfred"))

	byName, err := users.GetByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", byName.ID)

	found, err := users.Search(ctx, "AL", "u1", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)

	u.Name = strPtr("Alice A.")
	require.NoError(t, users.UpdateProfile(ctx, u))
	u, err = users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", *u.Name)
}

func TestUserSearchTreatsWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	users := sqlite.NewUserRepo(openTestDB(t))
	for id, name := range map[string]string{"u1": "ann", "u2": "bo_b", "u3": "bxb", "u4": "c.50%"} {
		require.NoError(t, users.Create(ctx, &domain.User{ID: id, Username: strPtr(name)}))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"_", []string{"u2"}},
		{"b_b", nil},
		{"o_b", []string{"u2"}},
		{"%", []string{"u4"}},
		{`\`, nil},
		{"B", []string{"u2", "u3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			found, err := users.Search(ctx, tt.query, "", 10)
			require.NoError(t, err)
			var ids []string
			for _, u := range found {
				ids = append(ids, u.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestConversationCreateAndRead(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	seedUsers(t, users, "u1", "u2")
	seedConversation(t, convs, "c1", "u1", "u1", "u2")

	c, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Participants, 2)
	assert.Equal(t, "u1", c.Participants[0].UserID)
	assert.True(t, c.Participants[0].HasSeenLatestMessage)
	assert.Equal(t, "u1_name", *c.Participants[0].User.Username)
	assert.False(t, c.Participants[1].HasSeenLatestMessage)
	assert.Nil(t, c.LatestMessage)

	list, err := convs.ListForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Participants, 2)

	_, err = convs.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationCreateRollsBackOnDuplicateParticipant(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	seedUsers(t, users, "u1")

	err := convs.Create(ctx, &domain.Conversation{ID: "c1"}, []*domain.Participant{
		{ID: "p1", UserID: "u1"},
		{ID: "p2", UserID: "u1"},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = convs.GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageCreateUpdatesConversation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	seedUsers(t, users, "u1", "u2", "u3")
	seedConversation(t, convs, "c1", "u1", "u1", "u2", "u3")

	require.NoError(t, parts.MarkSeen(ctx, "c1", "u3"))
	require.NoError(t, msgs.Create(ctx, &domain.Message{ID: "m1", Body: "first", ConversationID: "c1", SenderID: "u2"}))
	require.NoError(t, msgs.Create(ctx, &domain.Message{ID: "m2", Body: "second", ConversationID: "c1", SenderID: "u2"}))
	assert.ErrorIs(t, msgs.Create(ctx, &domain.Message{ID: "m1", Body: "again", ConversationID: "c1", SenderID: "u2"}), domain.ErrConflict)

	c, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.LatestMessage)
	assert.Equal(t, "m2", c.LatestMessage.ID)
	assert.Equal(t, "u2", c.LatestMessage.Sender.ID)

	seen := map[string]bool{}
	for _, p := range c.Participants {
		seen[p.UserID] = p.HasSeenLatestMessage
	}
	assert.Equal(t, map[string]bool{"u1": false, "u2": true, "u3": false}, seen)

	list, err := msgs.ListForConversation(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].ID)
	assert.Equal(t, "m1", list[1].ID)

	limited, err := msgs.ListForConversation(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestParticipantMembershipAndMarkSeen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	seedUsers(t, users, "u1", "u2", "u3")
	seedConversation(t, convs, "c1", "u1", "u1", "u2")

	at := time.Now().Add(time.Hour)
	require.NoError(t, parts.ChangeMembership(ctx, "c1",
		[]*domain.Participant{{ID: "p3", UserID: "u3"}}, []string{"u2"}, at))
	ok, err := parts.IsParticipant(ctx, "c1", "u3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = parts.IsParticipant(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	conv, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.WithinDuration(t, at, conv.UpdatedAt, time.Second)

	// A failed insert leaves the membership untouched.
	err = parts.ChangeMembership(ctx, "c1",
		[]*domain.Participant{{ID: "p4", UserID: "u1"}}, []string{"u3"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrConflict)
	ok, err = parts.IsParticipant(ctx, "c1", "u3")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, parts.ChangeMembership(ctx, "nope", nil, nil, time.Now()), domain.ErrNotFound)

	conv, err = convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, conv.ParticipantIDs())

	require.NoError(t, parts.MarkSeen(ctx, "c1", "u3"))
	require.NoError(t, parts.MarkSeen(ctx, "c1", "u3"))
	p, err := parts.Get(ctx, "c1", "u3")
	require.NoError(t, err)
	assert.True(t, p.HasSeenLatestMessage)

	assert.ErrorIs(t, parts.MarkSeen(ctx, "c1", "u2"), domain.ErrNotFound)
	_, err = parts.Get(ctx, "c1", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	seedUsers(t, users, "u1", "u2")
	seedConversation(t, convs, "c1", "u1", "u1", "u2")
	require.NoError(t, msgs.Create(ctx, &domain.Message{ID: "m1", Body: "hi", ConversationID: "c1", SenderID: "u1"}))

	require.NoError(t, convs.Delete(ctx, "c1"))
	assert.ErrorIs(t, convs.Delete(ctx, "c1"), domain.ErrNotFound)

	_, err := convs.GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = msgs.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, uid := range []string{"u1", "u2"} {
		_, err = parts.Get(ctx, "c1", uid)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestMembershipChangeOrdersConversations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	seedUsers(t, users, "u1", "u2")
	seedConversation(t, convs, "c1", "u1", "u1", "u2")
	seedConversation(t, convs, "c2", "u1", "u1", "u2")

	parts := sqlite.NewParticipantRepo(db)
	require.NoError(t, parts.ChangeMembership(ctx, "c1", nil, nil, time.Now().Add(time.Hour)))

	list, err := convs.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ID)
}
