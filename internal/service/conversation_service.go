package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatgraph/internal/domain"
	"chatgraph/internal/pubsub"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	users         domain.UserRepository
	bus           pubsub.Bus
	cipher        Cipher

	newID func() string
	now   func() time.Time
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	users domain.UserRepository,
	bus pubsub.Bus,
	cipher Cipher,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		users:         users,
		bus:           bus,
		cipher:        cipher,
		newID:         uuid.NewString,
		now:           time.Now,
	}
}

// Create starts a conversation between the caller and participantIDs. The
// caller is always a member and is the only one who starts out having seen
// the (empty) conversation.
func (s *ConversationService) Create(ctx context.Context, participantIDs []string) (*domain.Conversation, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	ids := uniqueIDs(append([]string{caller.ID}, participantIDs...))
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least one other participant", domain.ErrInvalidInput)
	}
	if err := s.requireUsers(ctx, ids[1:]); err != nil {
		return nil, err
	}

	conv := &domain.Conversation{ID: s.newID()}
	parts := make([]*domain.Participant, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, &domain.Participant{
			ID:                   s.newID(),
			UserID:               id,
			HasSeenLatestMessage: id == caller.ID,
		})
	}
	if err := s.conversations.Create(ctx, conv, parts); err != nil {
		return nil, storeError("create conversation", err)
	}

	full, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, storeError("reload conversation", err)
	}
	publish(ctx, s.bus, pubsub.ConversationCreated, &domain.ConversationCreatedEvent{Conversation: full})
	return full, nil
}

// List returns the caller's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context) ([]*domain.Conversation, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.conversations.ListForUser(ctx, caller.ID)
	if err != nil {
		return nil, storeError("list conversations", err)
	}
	for _, c := range convs {
		openConversation(s.cipher, c)
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	caller, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.memberConversation(ctx, id, caller.ID)
	if err != nil {
		return nil, err
	}
	openConversation(s.cipher, conv)
	return conv, nil
}

// MarkAsRead sets the caller's seen flag for the conversation. It is
// idempotent and publishes nothing; an already seen flag is not rewritten.
func (s *ConversationService) MarkAsRead(ctx context.Context, userID, conversationID string) error {
	caller, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if userID != caller.ID {
		return fmt.Errorf("%w: cannot mark a conversation as read for another user", domain.ErrUnauthorized)
	}

	p, err := s.participants.Get(ctx, conversationID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: participant %s in conversation %s", domain.ErrNotFound, userID, conversationID)
	}
	if err != nil {
		return storeError("get participant", err)
	}
	if p.HasSeenLatestMessage {
		return nil
	}

	if err := s.participants.MarkSeen(ctx, conversationID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: participant %s in conversation %s", domain.ErrNotFound, userID, conversationID)
		}
		return storeError("mark seen", err)
	}
	return nil
}

// UpdateParticipants makes participantIDs the conversation's exact
// membership. Nothing is written or published when the membership already
// matches.
func (s *ConversationService) UpdateParticipants(ctx context.Context, conversationID string, participantIDs []string) error {
	caller, err := currentUser(ctx)
	if err != nil {
		return err
	}
	conv, err := s.memberConversation(ctx, conversationID, caller.ID)
	if err != nil {
		return err
	}

	desired := uniqueIDs(participantIDs)
	if len(desired) == 0 {
		return fmt.Errorf("%w: participant list must not be empty", domain.ErrInvalidInput)
	}
	added, removed := diffIDs(conv.ParticipantIDs(), desired)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	if err := s.requireUsers(ctx, added); err != nil {
		return err
	}

	parts := make([]*domain.Participant, 0, len(added))
	for _, id := range added {
		parts = append(parts, &domain.Participant{ID: s.newID(), UserID: id})
	}
	if err := s.participants.ChangeMembership(ctx, conversationID, parts, removed, s.now()); err != nil {
		return storeError("change membership", err)
	}

	full, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return storeError("reload conversation", err)
	}
	openConversation(s.cipher, full)
	publish(ctx, s.bus, pubsub.ConversationUpdated, &domain.ConversationUpdatedEvent{
		Conversation:   full,
		AddedUserIDs:   added,
		RemovedUserIDs: removed,
	})
	return nil
}

// Delete removes the conversation with its participants and messages.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	caller, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if _, err := s.memberConversation(ctx, conversationID, caller.ID); err != nil {
		return err
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return storeError("delete conversation", err)
	}
	publish(ctx, s.bus, pubsub.ConversationDeleted, &domain.ConversationDeletedEvent{ID: conversationID})
	return nil
}

// memberConversation loads the conversation and checks that userID belongs
// to it.
func (s *ConversationService) memberConversation(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeError("get conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", domain.ErrUnauthorized, id)
	}
	return conv, nil
}

func (s *ConversationService) requireUsers(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
			}
			return storeError("get user", err)
		}
	}
	return nil
}

// uniqueIDs trims ids and drops blanks and repeats, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}

func diffIDs(current, desired []string) (added, removed []string) {
	in := func(set []string, id string) bool {
		for _, s := range set {
			if s == id {
				return true
			}
		}
		return false
	}
	for _, id := range desired {
		if !in(current, id) {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !in(desired, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
