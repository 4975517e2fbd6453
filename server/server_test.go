package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"convomem/chain"
	"convomem/config"
	"convomem/embedclient"
	"convomem/llmclient"
	"convomem/pipeline"
	"convomem/retriever"
	"convomem/store"
	"convomem/summarizer"
	"convomem/vectorindex"
	"convomem/window"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

var _ embedclient.Embedder = fakeEmbedder{}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	messages := store.NewMemoryMessageStore()
	win := window.New(window.Config{Size: 6, MaxSummaryChars: 500}, summarizer.New(nil, 500))
	backend := store.NewMemoryVectorBackend()
	idx := vectorindex.New(backend, vectorindex.DefaultConfig())
	ret := retriever.New(fakeEmbedder{}, idx)
	validator := chain.New(messages)

	completer := llmclient.CompleterFunc(func(_ context.Context, _, _ string) (string, error) {
		return "a reply", nil
	})

	p := pipeline.New(messages, win, ret, idx, fakeEmbedder{}, completer, pipeline.DefaultConfig(), 1)
	t.Cleanup(p.Shutdown)

	cfg := &config.Config{HTTP: config.HTTPConfig{Host: "127.0.0.1", Port: 0}}
	return New(cfg, p, messages, win, validator, idx, fakeEmbedder{})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timeline/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChatEndpointPersistsTurn(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"message": "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/timeline/chat?sessionId=s1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["assistantMessage"] == nil {
		t.Fatalf("expected assistantMessage in response, got %v", resp)
	}
}

func TestChatEndpointMissingSessionID(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/timeline/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChainValidateEndpointOnEmptySession(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timeline/chain/validate/unknown-session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var report struct {
		Valid bool `json:"Valid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected an empty session to validate cleanly")
	}
}
