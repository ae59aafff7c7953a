package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatgraph/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, body, conversation_id, sender_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`, m.ID, m.Body, m.ConversationID, m.SenderID).Scan(&m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET latest_message_id = $1, updated_at = $2 WHERE id = $3
	`, m.ID, m.CreatedAt, m.ConversationID)
	if err != nil {
		return fmt.Errorf("set latest message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = (user_id = $1), updated_at = $2
		WHERE conversation_id = $3
	`, m.SenderID, m.CreatedAt, m.ConversationID); err != nil {
		return fmt.Errorf("reset seen flags: %w", err)
	}

	return tx.Commit()
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return getMessage(ctx, r.db, id)
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.seq DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ── helpers ──────────────────────────────────────────────────────────────────

const messageSelect = `
	SELECT m.id, m.body, m.conversation_id, m.sender_id, m.created_at, m.updated_at,
	       u.id, u.username, u.email, u.name, u.image, u.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func getMessage(ctx context.Context, q querier, id string) (*domain.Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx, messageSelect+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{Sender: &domain.User{}}
	err := row.Scan(
		&m.ID, &m.Body, &m.ConversationID, &m.SenderID, &m.CreatedAt, &m.UpdatedAt,
		&m.Sender.ID, &m.Sender.Username, &m.Sender.Email, &m.Sender.Name, &m.Sender.Image, &m.Sender.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}
