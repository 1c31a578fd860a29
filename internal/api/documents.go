package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/rag"
)

type uploadResponse struct {
	DocumentID string `json:"doc_id"`
	Chunks     int    `json:"chunks"`
	PageCount  int    `json:"page_count"`
	Status     string `json:"status"`
	Filename   string `json:"filename"`
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		writeError(w, http.StatusBadRequest, "no filename provided")
		return
	}
	if !rag.SupportedExtension(filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type: "+strings.ToLower(filepath.Ext(filename))+". Allowed: .pdf, .txt, .md, .text")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}

	doc, err := s.deps.Documents.IngestBytes(r.Context(), r.FormValue("session_id"), filename, data)
	if err != nil {
		s.fail(w, "ingestion failed", err)
		return
	}
	if s.deps.Events != nil {
		err := s.deps.Events.DocumentIngested(hermes.DocumentIngested{
			DocumentID:     doc.ID,
			ConversationID: doc.ConversationID,
			Filename:       doc.Filename,
			SourceType:     doc.SourceType,
			Chunks:         doc.Chunks,
			Pages:          doc.PageCount,
			At:             time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to publish document ingestion", "doc_id", doc.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		DocumentID: doc.ID,
		Chunks:     doc.Chunks,
		PageCount:  doc.PageCount,
		Status:     "ingested",
		Filename:   doc.Filename,
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Documents.ListDocuments(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.fail(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []rag.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "docID")
	ok, err := s.deps.Documents.DeleteDocument(r.Context(), id)
	if err != nil {
		s.fail(w, "delete document", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "doc_id": id})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	p, ok, err := s.deps.Documents.GetPage(r.Context(), chi.URLParam(r, "docID"), page)
	if err != nil {
		s.fail(w, "get page", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
