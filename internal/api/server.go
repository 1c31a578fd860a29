package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/metrics"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/orchestrator"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
)

type Conversations interface {
	Create(ctx context.Context, title string) (session.Conversation, error)
	Get(ctx context.Context, id string) (session.Conversation, error)
	GetOrCreate(ctx context.Context, id string) (session.Conversation, error)
	List(ctx context.Context) ([]session.Conversation, error)
	Delete(ctx context.Context, id string) (bool, error)
	Rename(ctx context.Context, id, title string) error
	SetRetrievalEnabled(ctx context.Context, id string, enabled bool) error
}

type Documents interface {
	IngestBytes(ctx context.Context, conversationID, filename string, data []byte) (rag.Document, error)
	ListDocuments(ctx context.Context, conversationID string) ([]rag.Document, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	GetPage(ctx context.Context, documentID string, page int) (rag.Page, bool, error)
	DeleteConversationMemory(ctx context.Context, conversationID string) error
	Stats(ctx context.Context) (rag.Stats, error)
}

type Models interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	Model() string
	SetModel(model string)
}

type Voices interface {
	Voice() string
	SetVoice(id string) error
}

type Events interface {
	ConversationDeleted(ev hermes.ConversationDeleted) error
	DocumentIngested(ev hermes.DocumentIngested) error
}

// Deps wires the server to the rest of the service. Events and Metrics may
// be nil.
type Deps struct {
	Conversations Conversations
	Documents     Documents
	Models        Models
	Voices        Voices
	Registry      *orchestrator.Registry
	Events        Events
	Metrics       *metrics.Metrics
	AudioDir      string
	OllamaURL     string
	Logger        *slog.Logger
}

type Server struct {
	router   *chi.Mux
	port     int
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router.Get("/health", s.health)
	router.Get("/ws/voice", s.voiceSocket)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}
	if deps.AudioDir != "" {
		router.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(deps.AudioDir))))
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)
			r.Get("/{sessionID}", s.getSession)
			r.Patch("/{sessionID}", s.updateSession)
			r.Delete("/{sessionID}", s.deleteSession)
		})

		r.Post("/chat", s.chat)
		r.Post("/voice", s.voice)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.uploadDocument)
			r.Get("/", s.listDocuments)
			r.Delete("/{docID}", s.deleteDocument)
			r.Get("/{docID}/pages/{page}", s.getPage)
		})

		r.Get("/models", s.listModels)
		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.updateSettings)
		r.Get("/voices", s.listVoices)
		r.Put("/voices", s.setVoice)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("API server starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Status              string `json:"status"`
	OllamaURL           string `json:"ollama_url"`
	Model               string `json:"model"`
	Documents           int    `json:"documents_count"`
	Memories            int    `json:"conversation_memory_count"`
	Sessions            int    `json:"sessions_count"`
	ActiveOrchestrators int    `json:"active_orchestrators"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Documents.Stats(r.Context())
	if err != nil {
		s.fail(w, "load stats", err)
		return
	}
	convs, err := s.deps.Conversations.List(r.Context())
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:              "ok",
		OllamaURL:           s.deps.OllamaURL,
		Model:               s.deps.Models.Model(),
		Documents:           stats.Documents,
		Memories:            stats.Memories,
		Sessions:            len(convs),
		ActiveOrchestrators: s.deps.Registry.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a handler error to a status code and logs anything that is not
// the caller's fault.
func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(action+" failed", "error", err)
	}
	writeError(w, status, fmt.Sprintf("%s: %v", action, err))
}

func statusFor(err error) int {
	var upstream *ollama.StatusError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrUnsupportedFileType):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
