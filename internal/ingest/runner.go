// Package ingest bulk-loads a directory of documents into the retrieval
// index, recording progress so an interrupted run can resume.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/rag"
)

// ErrNoSession is returned when a run has no target session. Documents
// outside a session are never retrieved.
var ErrNoSession = errors.New("ingest: session id is required")

// Ingester stores one file in the index.
type Ingester interface {
	IngestFile(ctx context.Context, conversationID, path string) (rag.Document, error)
}

// Events announces ingested documents. It may be nil.
type Events interface {
	DocumentIngested(ev hermes.DocumentIngested) error
}

type Config struct {
	Dir            string
	ConversationID string // required; documents are scoped to this session
	StatePath      string
	DryRun         bool
}

// Summary is what a run did.
type Summary struct {
	Discovered int
	Ingested   int
	Skipped    int
	Chunks     int
	Pages      int
	Errors     int
}

type Runner struct {
	cfg    Config
	docs   Ingester
	events Events
	out    io.Writer
	logger *slog.Logger
}

func NewRunner(cfg Config, docs Ingester, events Events, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		docs:   docs,
		events: events,
		out:    os.Stdout,
		logger: logger,
	}
}

// Run ingests every supported file under the configured directory that a
// previous run has not already processed. State is saved after each file.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	if r.cfg.ConversationID == "" {
		return sum, ErrNoSession
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Dir)
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	sum.Discovered = len(files)

	var pending []string
	for _, f := range files {
		if state.IsProcessed(r.cfg.ConversationID, f) {
			sum.Skipped++
			continue
		}
		pending = append(pending, f)
	}
	state.FilesRemaining = len(pending)
	r.logger.Info("files discovered", "dir", r.cfg.Dir, "session_id", r.cfg.ConversationID, "total", len(files), "pending", len(pending), "skipped", sum.Skipped)

	for _, path := range pending {
		select {
		case <-ctx.Done():
			r.logger.Info("ingest interrupted, saving state")
			_ = state.Save()
			return sum, ctx.Err()
		default:
		}

		if r.cfg.DryRun {
			r.logger.Info("would ingest", "path", path)
			continue
		}

		doc, err := r.docs.IngestFile(ctx, r.cfg.ConversationID, path)
		if err != nil {
			r.logger.Error("ingest failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("ingest %s: %v", path, err))
			sum.Errors++
			_ = state.Save()
			continue
		}

		sum.Ingested++
		sum.Chunks += doc.Chunks
		sum.Pages += doc.PageCount
		state.ChunksIngested += doc.Chunks
		state.PagesIngested += doc.PageCount
		state.MarkProcessed(r.cfg.ConversationID, path)
		state.FilesRemaining--
		r.logger.Info("file ingested", "path", path, "doc_id", doc.ID, "chunks", doc.Chunks, "pages", doc.PageCount)

		if r.events != nil {
			if err := r.events.DocumentIngested(hermes.DocumentIngested{
				DocumentID:     doc.ID,
				ConversationID: doc.ConversationID,
				Filename:       doc.Filename,
				SourceType:     doc.SourceType,
				Chunks:         doc.Chunks,
				Pages:          doc.PageCount,
				At:             time.Now().UTC(),
			}); err != nil {
				r.logger.Warn("failed to publish ingestion", "doc_id", doc.ID, "error", err)
			}
		}

		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "error", err)
		}
	}

	if !r.cfg.DryRun {
		if err := state.Save(); err != nil {
			return sum, fmt.Errorf("save state: %w", err)
		}
	}

	r.logger.Info("ingest complete",
		"ingested", sum.Ingested,
		"chunks", sum.Chunks,
		"pages", sum.Pages,
		"errors", sum.Errors,
		"dry_run", r.cfg.DryRun,
	)

	fmt.Fprintf(r.out, "\n=== Ingest Summary ===\n")
	fmt.Fprintf(r.out, "Files discovered: %d\n", sum.Discovered)
	fmt.Fprintf(r.out, "Files ingested: %d\n", sum.Ingested)
	fmt.Fprintf(r.out, "Already processed: %d\n", sum.Skipped)
	fmt.Fprintf(r.out, "Chunks: %d\n", sum.Chunks)
	fmt.Fprintf(r.out, "Pages: %d\n", sum.Pages)
	fmt.Fprintf(r.out, "Errors: %d\n", sum.Errors)
	if r.cfg.DryRun {
		fmt.Fprintf(r.out, "Mode: DRY RUN (nothing ingested)\n")
	}
	fmt.Fprintf(r.out, "State file: %s\n", state.Path())

	return sum, nil
}

// discoverFiles returns supported documents under dir in lexical order.
// Hidden directories are skipped.
func discoverFiles(dir string) ([]string, error) {
	root := expandHome(dir)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if rag.SupportedExtension(root) {
			return []string{root}, nil
		}
		return nil, fmt.Errorf("%s: %w", root, rag.ErrUnsupportedFileType)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if rag.SupportedExtension(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
