package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/dto"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
)

// Scraper dispatches scrape requests to connected agents.
type Scraper interface {
	ScrapeAgent(ctx context.Context, agentID, path, accept string) (*proxy.ScrapeResults, error)
	ScrapePath(ctx context.Context, path, accept string) (*proxy.ScrapeResults, error)
}

type ProxyHandler struct {
	scraper Scraper
}

func NewProxyHandler(scraper Scraper) *ProxyHandler {
	return &ProxyHandler{
		scraper: scraper,
	}
}

// ScrapeAgent scrapes a path on an explicit agent.
// GET /proxy/:agent_id/*path
func (h *ProxyHandler) ScrapeAgent(c *gin.Context) {
	agentID := c.Param("agent_id")
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "path is required"})
		return
	}

	results, err := h.scraper.ScrapeAgent(c.Request.Context(), agentID, path, c.GetHeader("Accept"))
	h.writeResults(c, agentID, path, results, err)
}

// ScrapePath resolves the request path to the agent that announced it.
func (h *ProxyHandler) ScrapePath(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusMethodNotAllowed, dto.ErrorResponse{Error: "method not allowed"})
		return
	}

	path := strings.TrimPrefix(c.Request.URL.Path, "/")
	results, err := h.scraper.ScrapePath(c.Request.Context(), path, c.GetHeader("Accept"))
	h.writeResults(c, "", path, results, err)
}

func (h *ProxyHandler) writeResults(c *gin.Context, agentID, path string, results *proxy.ScrapeResults, err error) {
	if err != nil {
		status := statusForError(err)
		slog.Warn("Scrape failed",
			"agent_id", agentID,
			"path", path,
			"status", status,
			"error", err)
		c.JSON(status, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if !results.ValidResponse {
		status := results.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		slog.Warn("Agent failed to scrape target",
			"agent_id", results.AgentID,
			"scrape_id", results.ScrapeID,
			"url", results.URL,
			"status", status,
			"reason", results.FailureReason)
		c.String(status, results.FailureReason)
		return
	}

	status := results.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	contentType := results.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	c.Data(status, contentType, results.Content)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, proxy.ErrUnknownAgent), errors.Is(err, proxy.ErrUnknownPath):
		return http.StatusNotFound
	case errors.Is(err, proxy.ErrQueueFull), errors.Is(err, proxy.ErrSessionInvalidated):
		return http.StatusServiceUnavailable
	case errors.Is(err, proxy.ErrScrapeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, proxy.ErrAgentDisconnected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
