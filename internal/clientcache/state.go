// Package clientcache keeps a client's local copy of conversations and
// messages in step with the server's subscription events.
package clientcache

import (
	"sort"
	"time"
)

// The types mirror the GraphQL selection the client fetches, so responses
// decode into them directly.

type User struct {
	ID       string  `json:"id"`
	Username *string `json:"username,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	Body           string    `json:"body"`
	ConversationID string    `json:"conversationId"`
	Sender         User      `json:"sender"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Participant struct {
	ID                   string `json:"id"`
	User                 User   `json:"user"`
	HasSeenLatestMessage bool   `json:"hasSeenLatestMessage"`
}

type Conversation struct {
	ID            string        `json:"id"`
	LatestMessage *Message      `json:"latestMessage"`
	Participants  []Participant `json:"participants"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (c Conversation) hasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// State is the client cache. Messages are kept per conversation, newest
// first. OpenConversationID is empty when no conversation is open.
type State struct {
	UserID             string
	OpenConversationID string
	Conversations      map[string]Conversation
	Messages           map[string][]Message
}

func NewState(userID string) State {
	return State{
		UserID:        userID,
		Conversations: map[string]Conversation{},
		Messages:      map[string][]Message{},
	}
}

// SortedConversations returns conversations most recently updated first,
// ties broken by id.
func (s State) SortedConversations() []Conversation {
	res := make([]Conversation, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Unread reports whether the user has not seen the latest message of the
// conversation.
func (s State) Unread(conversationID string) bool {
	c, ok := s.Conversations[conversationID]
	if !ok {
		return false
	}
	for _, p := range c.Participants {
		if p.User.ID == s.UserID {
			return !p.HasSeenLatestMessage
		}
	}
	return false
}

// clone copies the maps so a reduction never writes into its input. Slices
// and conversations are replaced, never edited in place.
func (s State) clone() State {
	out := s
	out.Conversations = make(map[string]Conversation, len(s.Conversations))
	for k, v := range s.Conversations {
		out.Conversations[k] = v
	}
	out.Messages = make(map[string][]Message, len(s.Messages))
	for k, v := range s.Messages {
		out.Messages[k] = v
	}
	return out
}
