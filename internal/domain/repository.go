package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// UpdateProfile refreshes the identity-provider owned fields.
	UpdateProfile(ctx context.Context, u *User) error
	// SetUsername returns ErrConflict when the username belongs to someone else.
	SetUsername(ctx context.Context, id, username string) error
	Search(ctx context.Context, query, excludeID string, limit int) ([]*User, error)
}

// ConversationRepository defines persistence operations for conversations.
// Reads return conversations with Participants (and their users) and
// LatestMessage (and its sender) populated.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participants []*Participant) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	Delete(ctx context.Context, id string) error
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	Get(ctx context.Context, conversationID, userID string) (*Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	// ChangeMembership removes and adds participants and sets the
	// conversation's updatedAt to at, all in one transaction.
	ChangeMembership(ctx context.Context, conversationID string, add []*Participant, removeUserIDs []string, at time.Time) error
	MarkSeen(ctx context.Context, conversationID, userID string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create inserts the message and, in the same transaction, points the
	// conversation's latest message at it and resets every other
	// participant's seen flag. A reused message ID yields ErrConflict.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListForConversation returns messages newest first.
	ListForConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}
