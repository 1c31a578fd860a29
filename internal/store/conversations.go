package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lordamdal/voice-rag/internal/session"
)

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, c session.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, retrieval_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Title, c.RetrievalEnabled, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation with its message count. History is
// not loaded.
func (s *Store) GetConversation(ctx context.Context, id string) (session.Conversation, error) {
	var c session.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.title, c.retrieval_enabled, c.created_at, c.updated_at,
		       (SELECT count(*) FROM conversation_turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.RetrievalEnabled, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Conversation{}, session.ErrNotFound
	}
	if err != nil {
		return session.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]session.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.retrieval_enabled, c.created_at, c.updated_at,
		       (SELECT count(*) FROM conversation_turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []session.Conversation
	for rows.Next() {
		var c session.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.RetrievalEnabled, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, by cascade, its turns.
func (s *Store) DeleteConversation(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetTitle(ctx context.Context, id, title string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1`,
		id, title, at,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) SetRetrievalEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET retrieval_enabled = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1`,
		id, enabled, at,
	)
	if err != nil {
		return fmt.Errorf("update retrieval flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// AppendTurns adds turns in order and bumps updated_at in one transaction.
// autoTitle replaces the title only while it is still the default.
func (s *Store) AppendTurns(ctx context.Context, id string, turns []session.Turn, autoTitle string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET updated_at = GREATEST(updated_at, $2),
		    title = CASE WHEN $3 <> '' AND title = $4 THEN $3 ELSE title END
		WHERE id = $1`,
		id, at, autoTitle, session.DefaultTitle,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}

	for _, t := range turns {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_turns (conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)`,
			id, string(t.Role), t.Content, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentTurns returns the last n turns oldest first. n <= 0 returns every turn.
func (s *Store) RecentTurns(ctx context.Context, id string, n int) ([]session.Turn, error) {
	query := `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM conversation_turns
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`
	args := []any{id, n}
	if n <= 0 {
		query = `
			SELECT role, content, created_at FROM conversation_turns
			WHERE conversation_id = $1
			ORDER BY id ASC`
		args = args[:1]
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []session.Turn
	for rows.Next() {
		var t session.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = session.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}
