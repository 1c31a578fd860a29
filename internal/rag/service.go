// Package rag ingests documents and retrieves grounding passages and past
// conversation exchanges, scoped per conversation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

const (
	DefaultPageK   = 3
	DefaultMemoryK = 2

	queryMemoSize = 256
)

// Options tunes chunking and the default chunk-level K.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type Service struct {
	index    Index
	embedder Embedder
	cache    *EmbeddingCache
	recent   *lru.Cache[string, []float64]
	opts     Options
	logger   *slog.Logger
}

// NewService builds a retrieval service. cache may be nil.
func NewService(index Index, embedder Embedder, cache *EmbeddingCache, opts Options, logger *slog.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	recent, _ := lru.New[string, []float64](queryMemoSize)
	return &Service{index: index, embedder: embedder, cache: cache, recent: recent, opts: opts, logger: logger}
}

// SupportedExtension reports whether files with the given name can be ingested.
func SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt", ".md", ".text":
		return true
	}
	return false
}

// IngestFile reads and ingests the file at path.
func (s *Service) IngestFile(ctx context.Context, conversationID, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}
	return s.IngestBytes(ctx, conversationID, filepath.Base(path), data)
}

// IngestBytes parses file content by extension and ingests it.
func (s *Service) IngestBytes(ctx context.Context, conversationID, filename string, data []byte) (Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		pages, err := ExtractPDFPages(data)
		if err != nil {
			return Document{}, err
		}
		return s.IngestPages(ctx, conversationID, filename, "pdf", pages)
	case ".txt", ".md", ".text":
		text := strings.ToValidUTF8(string(data), "�")
		return s.IngestText(ctx, conversationID, filename, strings.TrimPrefix(ext, "."), text)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
}

// IngestText chunks and embeds text without page structure.
func (s *Service) IngestText(ctx context.Context, conversationID, filename, sourceType, text string) (Document, error) {
	doc := s.newDocument(conversationID, filename, sourceType)

	texts := ChunkText(text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return Document{}, err
	}
	chunks := make([]IndexedChunk, len(texts))
	for i, t := range texts {
		chunks[i] = IndexedChunk{Index: i, Text: t, Embedding: vecs[i]}
	}

	doc.Chunks = len(chunks)
	if err := s.index.InsertDocument(ctx, doc, nil, chunks); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	s.logger.Info("document ingested", "doc_id", doc.ID, "filename", filename, "chunks", doc.Chunks)
	return doc, nil
}

// IngestPages stores each non-empty page whole and as chunks tagged with
// the page number.
func (s *Service) IngestPages(ctx context.Context, conversationID, filename, sourceType string, pages []PageText) (Document, error) {
	doc := s.newDocument(conversationID, filename, sourceType)

	var pageTexts, chunkTexts []string
	var kept []PageText
	var chunkPages []int
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		kept = append(kept, PageText{Number: p.Number, Text: text})
		pageTexts = append(pageTexts, text)
		for _, c := range ChunkText(text, s.opts.ChunkSize, s.opts.ChunkOverlap) {
			chunkTexts = append(chunkTexts, c)
			chunkPages = append(chunkPages, p.Number)
		}
	}

	vecs, err := s.embed(ctx, append(pageTexts, chunkTexts...))
	if err != nil {
		return Document{}, err
	}

	indexed := make([]IndexedPage, len(kept))
	for i, p := range kept {
		indexed[i] = IndexedPage{Number: p.Number, Text: p.Text, Embedding: vecs[i]}
	}
	chunks := make([]IndexedChunk, len(chunkTexts))
	for i, t := range chunkTexts {
		page := chunkPages[i]
		chunks[i] = IndexedChunk{Index: i, PageNumber: &page, Text: t, Embedding: vecs[len(kept)+i]}
	}

	doc.Chunks = len(chunks)
	doc.PageCount = len(indexed)
	if err := s.index.InsertDocument(ctx, doc, indexed, chunks); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	s.logger.Info("document ingested",
		"doc_id", doc.ID,
		"filename", filename,
		"pages", doc.PageCount,
		"chunks", doc.Chunks,
	)
	return doc, nil
}

func (s *Service) newDocument(conversationID, filename, sourceType string) Document {
	return Document{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Filename:       filename,
		SourceType:     sourceType,
		CreatedAt:      time.Now().UTC(),
	}
}

// RetrieveChunks returns the k most relevant chunks; k <= 0 uses the configured K.
func (s *Service) RetrieveChunks(ctx context.Context, query, conversationID string, k int) ([]Passage, error) {
	if k <= 0 {
		k = s.opts.TopK
	}
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.SearchChunks(ctx, conversationID, vec, k)
}

// RetrievePages returns the k most relevant full pages.
func (s *Service) RetrievePages(ctx context.Context, query, conversationID string, k int) ([]Passage, error) {
	if k <= 0 {
		k = DefaultPageK
	}
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.SearchPages(ctx, conversationID, vec, k)
}

// RetrieveConversationMemory returns up to k stored exchanges relevant to query.
func (s *Service) RetrieveConversationMemory(ctx context.Context, query, conversationID string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultMemoryK
	}
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.SearchMemory(ctx, conversationID, vec, k)
}

// StoreConversationMemory embeds and stores one user/assistant exchange.
func (s *Service) StoreConversationMemory(ctx context.Context, conversationID, userText, assistantText string) error {
	exchange := fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)
	vecs, err := s.embed(ctx, []string{exchange})
	if err != nil {
		return err
	}
	if err := s.index.InsertMemory(ctx, uuid.NewString(), conversationID, exchange, vecs[0]); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *Service) GetPage(ctx context.Context, documentID string, page int) (Page, bool, error) {
	return s.index.GetPage(ctx, documentID, page)
}

// ListDocuments lists documents for a conversation, or all documents when
// conversationID is empty.
func (s *Service) ListDocuments(ctx context.Context, conversationID string) ([]Document, error) {
	return s.index.ListDocuments(ctx, conversationID)
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	ok, err := s.index.DeleteDocument(ctx, documentID)
	if err == nil && ok {
		s.logger.Info("document deleted", "doc_id", documentID)
	}
	return ok, err
}

// DeleteConversationMemory removes every stored exchange for a conversation.
func (s *Service) DeleteConversationMemory(ctx context.Context, conversationID string) error {
	n, err := s.index.DeleteMemory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n > 0 {
		s.logger.Info("conversation memory deleted", "session_id", conversationID, "entries", n)
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.index.Stats(ctx)
}

func (s *Service) embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// embedQuery looks in the in-process memo, then Redis, before calling the
// embedder. One context build retrieves pages, chunks and memory for the
// same query.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float64, error) {
	if v, ok := s.recent.Get(query); ok {
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, query); ok {
			s.recent.Add(query, v)
			return v, nil
		}
	}
	vecs, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	s.recent.Add(query, vecs[0])
	if s.cache != nil {
		s.cache.Set(ctx, query, vecs[0])
	}
	return vecs[0], nil
}
