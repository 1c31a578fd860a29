package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/tts"
)

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Models.ListModels(r.Context())
	if err != nil {
		s.logger.Warn("model listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to reach Ollama: "+err.Error())
		return
	}
	if models == nil {
		models = []ollama.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}

type settingsResponse struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsResponse{Model: s.deps.Models.Model(), Voice: s.deps.Voices.Voice()})
}

type settingsUpdate struct {
	Model *string `json:"model"`
}

// updateSettings changes the default chat model. Retrieval is toggled per
// session, not here.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Model != nil {
		model := strings.TrimSpace(*req.Model)
		if model == "" {
			writeError(w, http.StatusBadRequest, "model must not be empty")
			return
		}
		s.deps.Models.SetModel(model)
		s.logger.Info("default model changed", "model", model)
	}
	writeJSON(w, http.StatusOK, settingsResponse{Model: s.deps.Models.Model(), Voice: s.deps.Voices.Voice()})
}

type voiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (s *Server) listVoices(w http.ResponseWriter, r *http.Request) {
	catalogue := tts.Voices()
	out := make([]voiceOption, len(catalogue))
	for i, v := range catalogue {
		out[i] = voiceOption{ID: v.ID, Label: v.Name}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voices":  out,
		"current": s.deps.Voices.Voice(),
	})
}

type voiceUpdate struct {
	Voice string `json:"voice"`
}

func (s *Server) setVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Voices.SetVoice(req.Voice); err != nil {
		if errors.Is(err, tts.ErrUnknownVoice) {
			writeError(w, http.StatusBadRequest, "unknown voice: "+req.Voice)
			return
		}
		s.fail(w, "set voice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "voice": req.Voice})
}
