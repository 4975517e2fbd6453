package server

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"convomem/chain"
	"convomem/visualize"
)

// chatRequest is the body of /chat and /chat/simple.
type chatRequest struct {
	Message string `json:"message"`
}

// searchRequest is the body of /search/similar and /search/similar/global.
type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// thresholdRequest is the body of /search/threshold/{sessionId}.
type thresholdRequest struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
}

func (s *Server) handleChat(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter is required"})
		return
	}
	includePrompt := c.Query("includePrompt") == "true"

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.pipeline.HandleUserTurn(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"userMessage":      result.UserMessage,
		"assistantMessage": result.AssistantMessage,
		"degraded":         result.Degraded,
	}
	if includePrompt {
		resp["prompt"] = result.Prompt
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatSimple(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	reply, err := s.pipeline.CompleteDirect(c.Request.Context(), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleConversation(c *gin.Context) {
	sessionID := c.Param("sessionId")
	ordered, err := walkChain(s.messages, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "messages": ordered})
}

func (s *Server) handleSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	msgs, err := s.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "messages": msgs})
}

func (s *Server) handleSessionLabels(c *gin.Context) {
	sessionID := c.Param("sessionId")
	labels, err := s.pipeline.GenerateLabels(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, labels)
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.messages.ListAll()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleChainValidate(c *gin.Context) {
	sessionID := c.Param("sessionId")
	msgs, err := s.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	report := chain.Validate(sessionID, msgs)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleChainRepair(c *gin.Context) {
	sessionID := c.Param("sessionId")
	report, err := s.validator.Repair(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleChainGraph(c *gin.Context) {
	sessionID := c.Param("sessionId")
	msgs, err := s.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	report := chain.Validate(sessionID, msgs)

	var buf bytes.Buffer
	if err := visualize.Render(&buf, visualize.ChainGraph(sessionID, msgs, report)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleSearchSimilar(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter is required"})
		return
	}

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.Embed(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := s.index.SearchByQueryText(c.Request.Context(), sessionID, vector, req.Query, limit, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleSearchSimilarGlobal(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.Embed(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := s.index.SearchGlobal(c.Request.Context(), vector, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleSearchThreshold(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	vector, err := s.embedder.Embed(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := s.index.SearchWithThreshold(c.Request.Context(), sessionID, vector, req.Threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleChunksByMessage(c *gin.Context) {
	messageID := c.Param("id")
	chunks, err := s.index.GetByMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func (s *Server) handleChunksBySession(c *gin.Context) {
	sessionID := c.Param("id")
	count, err := s.index.CountBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "chunkCount": count})
}

func (s *Server) handleVectorStatistics(c *gin.Context) {
	stats, err := s.index.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunksBySession": stats})
}

func (s *Server) handleVectorStatisticsGraph(c *gin.Context) {
	stats, err := s.index.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := visualize.Render(&buf, visualize.VectorStats(stats)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleVectorProcess(c *gin.Context) {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	msg, err := s.messages.GetByID(req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.pipeline.IndexMessage(c.Request.Context(), msg); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": req.MessageID, "status": "indexed"})
}

func (s *Server) handleVectorReprocess(c *gin.Context) {
	sessionID := c.Param("sessionId")
	count, err := s.pipeline.ReprocessSession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "messagesReindexed": count})
}

func (s *Server) handlePhase6Context(c *gin.Context) {
	sessionID := c.Param("sessionId")
	winCtx := s.window.Context(sessionID)
	c.JSON(http.StatusOK, gin.H{
		"sessionId":      sessionID,
		"recentMessages": winCtx.RecentMessages,
		"summary":        winCtx.Summary,
	})
}

func (s *Server) handlePhase6HistoryDelete(c *gin.Context) {
	sessionID := c.Param("sessionId")
	s.window.Clear(sessionID)
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "status": "cleared"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"features": []string{
			"chat", "chain-validation", "vector-search", "conversation-window",
			"chain-graph", "vector-statistics-graph", "session-labels",
		},
	})
}

