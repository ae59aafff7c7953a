package clientcache

// Event is anything the reducer understands: server pushes and local actions.
type Event interface{ event() }

// Server pushed events.
type (
	ConversationCreated struct{ Conversation Conversation }
	ConversationUpdated struct {
		Conversation   Conversation
		AddedUserIDs   []string
		RemovedUserIDs []string
	}
	ConversationDeleted struct{ ID string }
	MessageSent         struct{ Message Message }
)

// Local actions.
type (
	// MarkedAsRead is applied before the server confirms and is not rolled
	// back if the mutation fails.
	MarkedAsRead       struct{ ConversationID string }
	MessageSentLocally struct{ Message Message }
	ConversationOpened struct{ ID string }
	// ConversationsLoaded replaces the whole conversation set, as after a
	// (re)connect.
	ConversationsLoaded struct{ Conversations []Conversation }
	MessagesLoaded      struct {
		ConversationID string
		Messages       []Message
	}
)

func (ConversationCreated) event() {}
func (ConversationUpdated) event() {}
func (ConversationDeleted) event() {}
func (MessageSent) event()         {}
func (MarkedAsRead) event()        {}
func (MessageSentLocally) event()  {}
func (ConversationOpened) event()  {}
func (ConversationsLoaded) event() {}
func (MessagesLoaded) event()      {}

// Reduce returns the state after ev. s is not modified.
func Reduce(s State, ev Event) State {
	next := s.clone()

	switch e := ev.(type) {
	case ConversationCreated:
		if _, ok := next.Conversations[e.Conversation.ID]; !ok {
			next.Conversations[e.Conversation.ID] = e.Conversation
		}

	case MessageSent:
		m := e.Message
		if m.ConversationID != next.OpenConversationID || m.Sender.ID == next.UserID {
			// Own messages are already there from the optimistic insert.
			break
		}
		next.Messages[m.ConversationID] = prepend(next.Messages[m.ConversationID], m)

	case ConversationUpdated:
		c := e.Conversation
		switch {
		case contains(e.RemovedUserIDs, next.UserID):
			next.evict(c.ID)
		case contains(e.AddedUserIDs, next.UserID):
			next.Conversations[c.ID] = c
		default:
			_, cached := next.Conversations[c.ID]
			if !cached && !c.hasParticipant(next.UserID) {
				break
			}
			next.Conversations[c.ID] = c
			if c.ID == next.OpenConversationID || c.LatestMessage == nil {
				break
			}
			if msgs, ok := next.Messages[c.ID]; ok {
				next.Messages[c.ID] = prepend(msgs, *c.LatestMessage)
			}
		}

	case ConversationDeleted:
		next.evict(e.ID)

	case MarkedAsRead:
		c, ok := next.Conversations[e.ConversationID]
		if !ok {
			break
		}
		parts := make([]Participant, len(c.Participants))
		copy(parts, c.Participants)
		for i := range parts {
			if parts[i].User.ID == next.UserID {
				parts[i].HasSeenLatestMessage = true
			}
		}
		c.Participants = parts
		next.Conversations[c.ID] = c

	case MessageSentLocally:
		m := e.Message
		next.Messages[m.ConversationID] = prepend(next.Messages[m.ConversationID], m)

	case ConversationOpened:
		next.OpenConversationID = e.ID

	case ConversationsLoaded:
		next.Conversations = make(map[string]Conversation, len(e.Conversations))
		for _, c := range e.Conversations {
			next.Conversations[c.ID] = c
		}
		for id := range next.Messages {
			if _, ok := next.Conversations[id]; !ok {
				delete(next.Messages, id)
			}
		}
		if _, ok := next.Conversations[next.OpenConversationID]; !ok {
			next.OpenConversationID = ""
		}

	case MessagesLoaded:
		msgs := make([]Message, len(e.Messages))
		copy(msgs, e.Messages)
		next.Messages[e.ConversationID] = msgs
	}

	return next
}

func (s *State) evict(conversationID string) {
	delete(s.Conversations, conversationID)
	delete(s.Messages, conversationID)
	if s.OpenConversationID == conversationID {
		s.OpenConversationID = ""
	}
}

// prepend returns a new slice with m in front, or msgs itself when a message
// with the same id is already present.
func prepend(msgs []Message, m Message) []Message {
	for _, existing := range msgs {
		if existing.ID == m.ID {
			return msgs
		}
	}
	res := make([]Message, 0, len(msgs)+1)
	res = append(res, m)
	return append(res, msgs...)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
