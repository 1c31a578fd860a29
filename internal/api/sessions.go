package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/session"
)

type createSessionRequest struct {
	Title string `json:"title"`
}

type updateSessionRequest struct {
	Title      *string `json:"title"`
	RAGEnabled *bool   `json:"rag_enabled"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	c, err := s.deps.Conversations.Create(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		s.fail(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Conversations.List(r.Context())
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	if convs == nil {
		convs = []session.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Conversations.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, "get session", err)
		return
	}
	if c.History == nil {
		c.History = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.Title != nil {
		if err := s.deps.Conversations.Rename(ctx, id, *req.Title); err != nil {
			s.fail(w, "rename session", err)
			return
		}
	}
	if req.RAGEnabled != nil {
		if err := s.deps.Conversations.SetRetrievalEnabled(ctx, id, *req.RAGEnabled); err != nil {
			s.fail(w, "update session", err)
			return
		}
	}

	c, err := s.deps.Conversations.Get(ctx, id)
	if err != nil {
		s.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  c.ID,
		"title":       c.Title,
		"rag_enabled": c.RetrievalEnabled,
	})
}

// deleteSession removes the conversation, its orchestrator and its recalled
// memory.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	ok, err := s.deps.Conversations.Delete(ctx, id)
	if err != nil {
		s.fail(w, "delete session", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.deps.Registry.Remove(id)
	if err := s.deps.Documents.DeleteConversationMemory(ctx, id); err != nil {
		s.logger.Warn("failed to delete conversation memory", "session_id", id, "error", err)
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.ConversationDeleted(hermes.ConversationDeleted{ConversationID: id, At: time.Now().UTC()}); err != nil {
			s.logger.Warn("failed to publish session deletion", "session_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
