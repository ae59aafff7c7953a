package domain

// Payloads published on the fan-out bus, one type per topic.

type ConversationCreatedEvent struct {
	Conversation *Conversation
}

type ConversationUpdatedEvent struct {
	Conversation   *Conversation
	AddedUserIDs   []string
	RemovedUserIDs []string
}

// Concerns reports whether userID is a current participant of the updated
// conversation or was just removed from it.
func (e *ConversationUpdatedEvent) Concerns(userID string) bool {
	if e.Conversation != nil && e.Conversation.HasParticipant(userID) {
		return true
	}
	for _, id := range e.RemovedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type ConversationDeletedEvent struct {
	ID string
}

type MessageSentEvent struct {
	Message *Message
}
