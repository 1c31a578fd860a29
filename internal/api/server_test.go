package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lordamdal/voice-rag/internal/metrics"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
)

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.json("GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	h.docs.addPage("d1", "", "manual.pdf", 1, "Hello world")
	if _, err := h.convs.Create(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	w := h.json("GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" || body.Model != "qwen3:8b" || body.OllamaURL != "http://ollama:11434" {
		t.Errorf("unexpected status: %+v", body)
	}
	if body.Documents != 1 || body.Sessions != 1 {
		t.Errorf("expected 1 document and 1 session, got %d and %d", body.Documents, body.Sessions)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.json("GET", "/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("test")
	m.RecordRequest("text", "ok")
	srv := NewServer(0, Deps{Metrics: m, Logger: discardLogger()})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_requests_total") {
		t.Errorf("expected request counter in exposition, got:\n%s", w.Body)
	}
}

func TestMetricsEndpointAbsentWithoutMetrics(t *testing.T) {
	h := newHarness(t)
	if w := h.json("GET", "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", session.ErrNotFound), http.StatusNotFound},
		{rag.ErrUnsupportedFileType, http.StatusBadRequest},
		{fmt.Errorf("generate: %w", &ollama.StatusError{Code: 500, Body: "boom"}), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
