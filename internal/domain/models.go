package domain

import "time"

// User represents an identity known to the chat. The ID is the identity
// provider's subject; Username stays nil until the user picks one.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  *string   `db:"username" json:"username,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Image     *string   `db:"image" json:"image,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a chat between two or more participants.
type Conversation struct {
	ID              string    `db:"id"`
	LatestMessageID *string   `db:"latest_message_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`

	// Populated by repositories on reads.
	Participants  []*Participant
	LatestMessage *Message
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the user IDs of all members.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Participant links one user to one conversation and carries that user's
// read marker for the conversation.
type Participant struct {
	ID                   string    `db:"id"`
	ConversationID       string    `db:"conversation_id"`
	UserID               string    `db:"user_id"`
	HasSeenLatestMessage bool      `db:"has_seen_latest_message"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`

	User *User
}

// Message is a single immutable chat message. The ID is chosen by the client
// so it can insert the message locally before the server acknowledges it.
type Message struct {
	ID             string    `db:"id"`
	Body           string    `db:"body"` // encrypted at rest
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`

	Sender *User
}
