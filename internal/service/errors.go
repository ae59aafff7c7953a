package service

import (
	"context"
	"errors"
	"log"

	"chatgraph/internal/domain"
	"chatgraph/internal/pubsub"
	"chatgraph/internal/security"
)

// storeError passes domain sentinels through and replaces anything else with
// ErrOperationFailed after logging it.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrUnauthorized,
		domain.ErrInvalidInput,
		domain.ErrOperationFailed,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	log.Printf("service: %s: %v", op, err)
	return domain.ErrOperationFailed
}

func currentUser(ctx context.Context) (*domain.User, error) {
	u := security.UserFromContext(ctx)
	if u == nil {
		return nil, domain.ErrUnauthorized
	}
	return u, nil
}

// publish reports bus failures without failing the mutation: the store has
// already committed.
func publish(ctx context.Context, bus pubsub.Bus, topic pubsub.Topic, payload any) {
	if err := bus.Publish(ctx, topic, payload); err != nil {
		log.Printf("service: publish %s: %v", topic, err)
	}
}
