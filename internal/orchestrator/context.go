package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/lordamdal/voice-rag/internal/pageread"
	"github.com/lordamdal/voice-rag/internal/rag"
)

const (
	pageK   = 3
	memoryK = 2
)

// ContextBuilder assembles grounding context and citations for one query.
type ContextBuilder struct {
	retriever Retriever
	topK      int
}

func NewContextBuilder(r Retriever, topK int) *ContextBuilder {
	return &ContextBuilder{retriever: r, topK: topK}
}

// Build retrieves pages, falling back to chunks when no page matches, plus
// recalled exchanges. A conversation with retrieval disabled gets no context.
func (b *ContextBuilder) Build(ctx context.Context, conversationID, query string, enabled bool) (string, []Source, error) {
	if !enabled {
		return "", nil, nil
	}

	docs, err := b.retriever.RetrievePages(ctx, query, conversationID, pageK)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve pages: %w", err)
	}
	if len(docs) == 0 {
		docs, err = b.retriever.RetrieveChunks(ctx, query, conversationID, b.topK)
		if err != nil {
			return "", nil, fmt.Errorf("retrieve chunks: %w", err)
		}
	}

	memories, err := b.retriever.RetrieveConversationMemory(ctx, query, conversationID, memoryK)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve memory: %w", err)
	}

	var parts []string
	if len(docs) > 0 {
		labelled := make([]string, len(docs))
		for i, p := range docs {
			labelled[i] = sourceLabel(p) + "\n" + p.Text
		}
		parts = append(parts, "Document context:\n"+strings.Join(labelled, "\n---\n"))
	}
	if len(memories) > 0 {
		parts = append(parts, "Previous conversations:\n"+strings.Join(memories, "\n---\n"))
	}

	return strings.Join(parts, "\n\n"), citations(docs), nil
}

func sourceLabel(p rag.Passage) string {
	if p.PageNumber == nil {
		return fmt.Sprintf("[Source: %s]", p.Filename)
	}
	return fmt.Sprintf("[Source: %s, page %d]", p.Filename, *p.PageNumber)
}

type citationKey struct {
	doc  string
	page int
}

// citations returns one Source per distinct (document, page); passages
// without a page share the key (document, -1).
func citations(passages []rag.Passage) []Source {
	seen := make(map[citationKey]bool)
	var out []Source
	for _, p := range passages {
		key := citationKey{doc: p.DocumentID, page: -1}
		if p.PageNumber != nil {
			key.page = *p.PageNumber
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Source{Filename: p.Filename, PageNumber: copyInt(p.PageNumber), DocumentID: p.DocumentID})
	}
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ReadPage resolves a detected page request to verbatim page text. ok is
// false when no document or page matches, in which case the caller falls
// back to normal generation.
func (b *ContextBuilder) ReadPage(ctx context.Context, conversationID string, req pageread.Request) (text string, sources []Source, ok bool, err error) {
	docs, err := b.retriever.ListDocuments(ctx, conversationID)
	if err != nil {
		return "", nil, false, fmt.Errorf("list documents: %w", err)
	}
	doc, found := resolveDocument(docs, req.Hint)
	if !found {
		return "", nil, false, nil
	}

	page, found, err := b.retriever.GetPage(ctx, doc.ID, req.Page)
	if err != nil {
		return "", nil, false, fmt.Errorf("get page: %w", err)
	}
	if !found {
		return "", nil, false, nil
	}

	n := page.PageNumber
	return page.Text, []Source{{Filename: page.Filename, PageNumber: &n, DocumentID: page.DocumentID}}, true, nil
}

// resolveDocument picks the document a page request refers to: the first
// filename containing the hint, otherwise the only document when there is
// exactly one and no hint, otherwise the first document that has pages.
func resolveDocument(docs []rag.Document, hint string) (rag.Document, bool) {
	if len(docs) == 0 {
		return rag.Document{}, false
	}
	if hint != "" {
		h := strings.ToLower(hint)
		for _, d := range docs {
			if strings.Contains(strings.ToLower(d.Filename), h) {
				return d, true
			}
		}
	} else if len(docs) == 1 {
		return docs[0], true
	}
	for _, d := range docs {
		if d.PageCount > 0 {
			return d, true
		}
	}
	return rag.Document{}, false
}
