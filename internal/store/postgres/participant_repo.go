package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatgraph/internal/domain"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Get(ctx context.Context, conversationID, userID string) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, has_seen_latest_message, created_at, updated_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(
		&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatestMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (r *ParticipantRepo) ChangeMembership(
	ctx context.Context,
	conversationID string,
	add []*domain.Participant,
	removeUserIDs []string,
	at time.Time,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, at, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if len(removeUserIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = ANY($2::text[])
		`, conversationID, removeUserIDs); err != nil {
			return fmt.Errorf("remove participants: %w", err)
		}
	}

	for _, p := range add {
		p.ConversationID = conversationID
	}
	if err := insertParticipants(ctx, tx, add); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ParticipantRepo) MarkSeen(ctx context.Context, conversationID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = TRUE, updated_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func insertParticipants(ctx context.Context, q querier, participants []*domain.Participant) error {
	for _, p := range participants {
		err := q.QueryRowContext(ctx, `
			INSERT INTO conversation_participants
				(id, conversation_id, user_id, has_seen_latest_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			RETURNING created_at, updated_at
		`, p.ID, p.ConversationID, p.UserID, p.HasSeenLatestMessage).Scan(&p.CreatedAt, &p.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("participant %s: %w", p.UserID, domain.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

func listParticipants(ctx context.Context, q querier, conversationID string) ([]*domain.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT cp.id, cp.conversation_id, cp.user_id, cp.has_seen_latest_message, cp.created_at, cp.updated_at,
		       u.id, u.username, u.email, u.name, u.image, u.created_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY cp.seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var res []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{User: &domain.User{}}
		if err := rows.Scan(
			&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatestMessage, &p.CreatedAt, &p.UpdatedAt,
			&p.User.ID, &p.User.Username, &p.User.Email, &p.User.Name, &p.User.Image, &p.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
