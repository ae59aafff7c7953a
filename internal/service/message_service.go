package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chatgraph/internal/domain"
	"chatgraph/internal/pubsub"
)

const defaultPageSize = 200

type MessageService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	bus           pubsub.Bus
	cipher        Cipher

	MaxMessageLength int
	PageSize         int
}

func NewMessageService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	bus pubsub.Bus,
	cipher Cipher,
	maxMessageLength, pageSize int,
) *MessageService {
	return &MessageService{
		conversations:    conversations,
		messages:         messages,
		bus:              bus,
		cipher:           cipher,
		MaxMessageLength: maxMessageLength,
		PageSize:         pageSize,
	}
}

// SendMessageInput carries a client-built message. The ID is generated by the
// client so it can show the message before the server acknowledges it.
type SendMessageInput struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
}

// Send stores the message, moves the conversation's latest message pointer
// and resets everyone else's seen flag, then announces both changes.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) error {
	caller, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if in.SenderID != caller.ID {
		return fmt.Errorf("%w: cannot send as another user", domain.ErrUnauthorized)
	}
	if strings.TrimSpace(in.ID) == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Body) == "" {
		return fmt.Errorf("%w: message body cannot be empty", domain.ErrInvalidInput)
	}
	if s.MaxMessageLength > 0 && utf8.RuneCountInString(in.Body) > s.MaxMessageLength {
		return fmt.Errorf("%w: message body exceeds %d characters", domain.ErrInvalidInput, s.MaxMessageLength)
	}

	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, in.ConversationID)
	}
	if err != nil {
		return storeError("get conversation", err)
	}
	if !conv.HasParticipant(in.SenderID) {
		return fmt.Errorf("%w: sender is not a participant of conversation %s", domain.ErrNotFound, in.ConversationID)
	}

	sealed, err := s.cipher.Encrypt(in.Body)
	if err != nil {
		return storeError("encrypt body", err)
	}
	msg := &domain.Message{
		ID:             in.ID,
		Body:           sealed,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: message %s", domain.ErrConflict, in.ID)
		}
		return storeError("create message", err)
	}

	sent, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return storeError("reload message", err)
	}
	openMessage(s.cipher, sent)

	updated, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return storeError("reload conversation", err)
	}
	openConversation(s.cipher, updated)

	publish(ctx, s.bus, pubsub.MessageSent, &domain.MessageSentEvent{Message: sent})
	publish(ctx, s.bus, pubsub.ConversationUpdated, &domain.ConversationUpdatedEvent{Conversation: updated})
	return nil
}

// List returns the newest messages of the conversation, newest first.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, storeError("get conversation", err)
	}
	if !conv.HasParticipant(caller.ID) {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", domain.ErrUnauthorized, conversationID)
	}

	limit := s.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	msgs, err := s.messages.ListForConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, storeError("list messages", err)
	}
	for _, m := range msgs {
		openMessage(s.cipher, m)
	}
	return msgs, nil
}
