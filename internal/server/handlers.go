package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/montycloud/moya/internal/memory"
	"github.com/montycloud/moya/internal/ratelimit"
)

type chatRequest struct {
	Message  string `json:"message" binding:"required"`
	ThreadID string `json:"thread_id"`
}

type chatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

// handleHealth riporta lo stato del server e degli agenti.
func (s *Server) handleHealth(c *gin.Context) {
	failures := s.orch.Registry().HealthCheck(c.Request.Context())

	status := "ok"
	code := http.StatusOK
	unhealthy := make(map[string]string, len(failures))
	for name, err := range failures {
		unhealthy[name] = err.Error()
	}
	if len(failures) > 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"agents":    s.orch.Registry().Len(),
		"unhealthy": unhealthy,
	})
}

// handleChat gestisce una richiesta di chat sincrona.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}

	start := time.Now()
	reply, err := s.orch.Orchestrate(c.Request.Context(), req.ThreadID, req.Message)
	if s.exporter != nil {
		s.exporter.ObserveRequest(agentLabel(err), err, time.Since(start))
	}
	if err != nil {
		s.writeOrchestrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{Response: reply, ThreadID: req.ThreadID})
}

// handleChatStream gestisce una richiesta di chat con risposta SSE.
func (s *Server) handleChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	start := time.Now()
	_, err := s.orch.OrchestrateStream(c.Request.Context(), req.ThreadID, req.Message, func(chunk string) error {
		if _, werr := fmt.Fprintf(c.Writer, "data: %s\n\n", sseEscape(chunk)); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if s.exporter != nil {
		s.exporter.ObserveRequest(agentLabel(err), err, time.Since(start))
	}
	if err != nil {
		fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", sseEscape(err.Error()))
		flusher.Flush()
		return
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleListAgents elenca gli agenti registrati con le loro metriche.
func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.orch.Registry().Describe()})
}

// handleThreadMessages restituisce gli ultimi messaggi di un thread.
func (s *Server) handleThreadMessages(c *gin.Context) {
	threadID := c.Param("id")
	n := 50
	if q := c.Query("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		n = v
	}

	exists, err := s.repo.ThreadExists(c.Request.Context(), threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	msgs, err := s.repo.GetLastNMessages(c.Request.Context(), threadID, n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "messages": msgs})
}

// handleDeleteThread elimina un thread e la sua cronologia.
func (s *Server) handleDeleteThread(c *gin.Context) {
	err := s.repo.DeleteThread(c.Request.Context(), c.Param("id"))
	if errors.Is(err, memory.ErrThreadNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeOrchestrationError(c *gin.Context, err error) {
	var rlErr *ratelimit.RateLimitError
	if errors.As(err, &rlErr) {
		if rlErr.Info.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(rlErr.Info.RetryAfter.Seconds())+1))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func agentLabel(err error) string {
	var rlErr *ratelimit.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.Agent
	}
	return "orchestrator"
}

// sseEscape sostituisce i newline, che in SSE delimitano gli eventi.
func sseEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			out = append(out, `\n`...)
		case '\r':
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
