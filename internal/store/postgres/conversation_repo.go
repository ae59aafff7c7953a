package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatgraph/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, participants []*domain.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING created_at, updated_at
	`, c.ID).Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range participants {
		p.ConversationID = c.ID
	}
	if err := insertParticipants(ctx, tx, participants); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if err := r.populate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for _, c := range res {
		if err := r.populate(ctx, c); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Delete removes the conversation; participants and messages cascade.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) populate(ctx context.Context, c *domain.Conversation) error {
	participants, err := listParticipants(ctx, r.db, c.ID)
	if err != nil {
		return err
	}
	c.Participants = participants

	c.LatestMessage = nil
	if c.LatestMessageID != nil {
		m, err := getMessage(ctx, r.db, *c.LatestMessageID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		c.LatestMessage = m
	}
	return nil
}
