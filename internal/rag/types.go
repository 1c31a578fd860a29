package rag

import (
	"context"
	"time"
)

// Passage is one retrieved piece of document text. PageNumber is nil for
// chunks of documents without page structure.
type Passage struct {
	Text       string
	DocumentID string
	Filename   string
	PageNumber *int
	SourceType string
}

// Document is an ingested file scoped to one conversation.
type Document struct {
	ID             string    `json:"doc_id"`
	ConversationID string    `json:"session_id"`
	Filename       string    `json:"filename"`
	SourceType     string    `json:"source_type"`
	Chunks         int       `json:"chunks"`
	PageCount      int       `json:"page_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Page is the full text of one document page.
type Page struct {
	DocumentID string `json:"doc_id"`
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// PageText is extracted page content prior to ingestion. Number is 1-indexed.
type PageText struct {
	Number int
	Text   string
}

// IndexedChunk is a chunk ready to be written to an Index.
type IndexedChunk struct {
	Index      int
	PageNumber *int
	Text       string
	Embedding  []float64
}

// IndexedPage is a full page ready to be written to an Index.
type IndexedPage struct {
	Number    int
	Text      string
	Embedding []float64
}

// Stats counts what the index holds.
type Stats struct {
	Documents int `json:"documents"`
	Memories  int `json:"memories"`
}

// Index stores embedded text and answers nearest-neighbour queries.
// Search methods return results ordered by relevance, most relevant first.
type Index interface {
	InsertDocument(ctx context.Context, doc Document, pages []IndexedPage, chunks []IndexedChunk) error
	SearchChunks(ctx context.Context, conversationID string, embedding []float64, k int) ([]Passage, error)
	SearchPages(ctx context.Context, conversationID string, embedding []float64, k int) ([]Passage, error)
	GetPage(ctx context.Context, documentID string, page int) (Page, bool, error)
	ListDocuments(ctx context.Context, conversationID string) ([]Document, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)

	InsertMemory(ctx context.Context, id, conversationID, text string, embedding []float64) error
	SearchMemory(ctx context.Context, conversationID string, embedding []float64, k int) ([]string, error)
	DeleteMemory(ctx context.Context, conversationID string) (int64, error)

	Stats(ctx context.Context) (Stats, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
