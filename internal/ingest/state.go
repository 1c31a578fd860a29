package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const DefaultStatePath = "data/ingest-state.json"

// ProcessedFile records that a file was ingested into one session. The same
// file may be ingested into several sessions.
type ProcessedFile struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

// State tracks progress for resumable ingest runs.
type State struct {
	StartedAt       time.Time       `json:"started_at"`
	LastProcessedAt time.Time       `json:"last_processed_at"`
	FilesProcessed  []ProcessedFile `json:"files_processed"`
	FilesRemaining  int             `json:"files_remaining"`
	ChunksIngested  int             `json:"chunks_ingested"`
	PagesIngested   int             `json:"pages_ingested"`
	Errors          []string        `json:"errors"`

	path      string
	processed map[ProcessedFile]bool
}

// LoadState reads the state file at path, or starts a new one when it does
// not exist yet.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				path:      p,
				processed: make(map[ProcessedFile]bool),
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	s.processed = make(map[ProcessedFile]bool, len(s.FilesProcessed))
	for _, f := range s.FilesProcessed {
		s.processed[f] = true
	}
	return &s, nil
}

func (s *State) Path() string { return s.path }

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

func (s *State) IsProcessed(sessionID, path string) bool {
	return s.processed[ProcessedFile{SessionID: sessionID, Path: path}]
}

func (s *State) MarkProcessed(sessionID, path string) {
	if s.processed == nil {
		s.processed = make(map[ProcessedFile]bool)
	}
	key := ProcessedFile{SessionID: sessionID, Path: path}
	if s.processed[key] {
		return
	}
	s.processed[key] = true
	s.FilesProcessed = append(s.FilesProcessed, key)
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
