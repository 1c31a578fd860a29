package store

import (
	"context"
	"fmt"
)

// InsertMemory stores one embedded past exchange.
func (s *Store) InsertMemory(ctx context.Context, id, conversationID, text string, embedding []float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_memory (id, conversation_id, content, embedding)
		VALUES ($1, $2, $3, $4::vector)`,
		id, conversationID, text, pgVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// SearchMemory returns the text of the k past exchanges in a conversation
// nearest to embedding.
func (s *Store) SearchMemory(ctx context.Context, conversationID string, embedding []float64, k int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content FROM conversation_memory
		WHERE conversation_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		pgVector(embedding), conversationID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMemory(ctx context.Context, conversationID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_memory WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete memory: %w", err)
	}
	return tag.RowsAffected(), nil
}
