// Package server exposes the engine over HTTP, grounded on the
// teacher's gin wiring (routes.go/agentize.go): a thin struct holding
// every collaborator, one method per route, JSON in and out.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convomem/chain"
	"convomem/config"
	"convomem/embedclient"
	"convomem/model"
	"convomem/pipeline"
	"convomem/store"
	"convomem/vectorindex"
	"convomem/window"
)

// Server bundles every component the HTTP surface dispatches to.
type Server struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	messages  store.MessageStore
	window    *window.Window
	validator *chain.Validator
	index     *vectorindex.Index
	embedder  embedclient.Embedder

	httpServer *http.Server
}

// New builds a Server. All arguments are assumed already wired (see
// cmd/timelined).
func New(cfg *config.Config, p *pipeline.Pipeline, messages store.MessageStore, win *window.Window, validator *chain.Validator, index *vectorindex.Index, embedder embedclient.Embedder) *Server {
	return &Server{
		cfg:       cfg,
		pipeline:  p,
		messages:  messages,
		window:    win,
		validator: validator,
		index:     index,
		embedder:  embedder,
	}
}

// Router builds the gin.Engine with every route registered under
// /api/v1/timeline.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	root := router.Group("/api/v1/timeline")
	s.RegisterRoutes(root)

	return router
}

// Start blocks serving HTTP on cfg.HTTP's address until Shutdown is
// called, at which point it returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.cfg.GetAddress(), Handler: s.Router()}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener, letting in-flight
// requests drain within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// RegisterRoutes registers every spec.md §6 endpoint plus the
// supplemented labels/visualization endpoints on root.
func (s *Server) RegisterRoutes(root *gin.RouterGroup) {
	root.POST("/chat", s.handleChat)
	root.POST("/chat/simple", s.handleChatSimple)
	root.GET("/conversation/:sessionId", s.handleConversation)
	root.GET("/session/:sessionId", s.handleSession)
	root.GET("/session/:sessionId/labels", s.handleSessionLabels)
	root.GET("/messages", s.handleMessages)
	root.GET("/chain/validate/:sessionId", s.handleChainValidate)
	root.POST("/chain/repair/:sessionId", s.handleChainRepair)
	root.GET("/chain/graph/:sessionId", s.handleChainGraph)
	root.POST("/search/similar", s.handleSearchSimilar)
	root.POST("/search/similar/global", s.handleSearchSimilarGlobal)
	root.POST("/search/threshold/:sessionId", s.handleSearchThreshold)
	root.GET("/chunks/message/:id", s.handleChunksByMessage)
	root.GET("/chunks/session/:id", s.handleChunksBySession)
	root.GET("/vector/statistics", s.handleVectorStatistics)
	root.GET("/vector/statistics/graph", s.handleVectorStatisticsGraph)
	root.POST("/vector/process", s.handleVectorProcess)
	root.POST("/vector/reprocess/:sessionId", s.handleVectorReprocess)
	root.GET("/phase6/context/:sessionId", s.handlePhase6Context)
	root.DELETE("/phase6/history/:sessionId", s.handlePhase6HistoryDelete)
	root.GET("/health", s.handleHealth)
}

func errStatus(kind model.Kind) int {
	switch kind {
	case model.KindBadInput, model.KindPromptOverflow, model.KindDuplicate:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	c.JSON(errStatus(kind), gin.H{"error": err.Error(), "kind": kind})
}
