package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lordamdal/voice-rag/internal/rag"
)

// InsertDocument writes a document with its pages and chunks atomically.
func (s *Store) InsertDocument(ctx context.Context, doc rag.Document, pages []rag.IndexedPage, chunks []rag.IndexedChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, conversation_id, filename, source_type, chunk_count, page_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.ConversationID, doc.Filename, doc.SourceType, doc.Chunks, doc.PageCount, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO document_pages (document_id, page_number, content, embedding)
			VALUES ($1, $2, $3, $4::vector)`,
			doc.ID, p.Number, p.Text, pgVector(p.Embedding),
		)
	}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (document_id, chunk_index, page_number, content, embedding)
			VALUES ($1, $2, $3, $4, $5::vector)`,
			doc.ID, c.Index, c.PageNumber, c.Text, pgVector(c.Embedding),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert pages and chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SearchChunks returns the k chunks nearest to embedding by cosine distance.
// An empty conversationID searches every conversation.
func (s *Store) SearchChunks(ctx context.Context, conversationID string, embedding []float64, k int) ([]rag.Passage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.content, d.id, d.filename, c.page_number, d.source_type
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE $2 = '' OR d.conversation_id = $2
		ORDER BY c.embedding <=> $1::vector
		LIMIT $3`,
		pgVector(embedding), conversationID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return scanPassages(rows)
}

// SearchPages returns the k full pages nearest to embedding.
func (s *Store) SearchPages(ctx context.Context, conversationID string, embedding []float64, k int) ([]rag.Passage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.content, d.id, d.filename, p.page_number, d.source_type
		FROM document_pages p
		JOIN documents d ON d.id = p.document_id
		WHERE $2 = '' OR d.conversation_id = $2
		ORDER BY p.embedding <=> $1::vector
		LIMIT $3`,
		pgVector(embedding), conversationID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	return scanPassages(rows)
}

func scanPassages(rows pgx.Rows) ([]rag.Passage, error) {
	defer rows.Close()
	var out []rag.Passage
	for rows.Next() {
		var p rag.Passage
		if err := rows.Scan(&p.Text, &p.DocumentID, &p.Filename, &p.PageNumber, &p.SourceType); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPage(ctx context.Context, documentID string, page int) (rag.Page, bool, error) {
	p := rag.Page{DocumentID: documentID, PageNumber: page}
	err := s.pool.QueryRow(ctx, `
		SELECT d.filename, p.content
		FROM document_pages p
		JOIN documents d ON d.id = p.document_id
		WHERE p.document_id = $1 AND p.page_number = $2`,
		documentID, page,
	).Scan(&p.Filename, &p.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return rag.Page{}, false, nil
	}
	if err != nil {
		return rag.Page{}, false, fmt.Errorf("get page: %w", err)
	}
	return p, true, nil
}

// ListDocuments returns documents oldest first. An empty conversationID lists
// every document.
func (s *Store) ListDocuments(ctx context.Context, conversationID string) ([]rag.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, filename, source_type, chunk_count, page_count, created_at
		FROM documents
		WHERE $1 = '' OR conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []rag.Document
	for rows.Next() {
		var d rag.Document
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Filename, &d.SourceType, &d.Chunks, &d.PageCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Stats(ctx context.Context) (rag.Stats, error) {
	var st rag.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM conversation_memory)`,
	).Scan(&st.Documents, &st.Memories)
	if err != nil {
		return rag.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
