package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/dto"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
)

// AgentRegistry is the part of the proxy server the diagnostics routes read.
type AgentRegistry interface {
	AgentContextManager() *proxy.AgentContextManager
	PathManager() *proxy.PathManager
	EvictAgent(agentID, reason string) bool
}

type AgentsHandler struct {
	registry AgentRegistry
}

func NewAgentsHandler(registry AgentRegistry) *AgentsHandler {
	return &AgentsHandler{registry: registry}
}

// ListAgents returns every registered agent session.
// GET /agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	manager := h.registry.AgentContextManager()
	pathsByAgent := h.pathsByAgent()

	contexts := manager.AgentContexts()
	sort.Slice(contexts, func(i, j int) bool {
		return agentIDLess(contexts[i].AgentID(), contexts[j].AgentID())
	})

	agents := make([]dto.AgentInfo, len(contexts))
	for i, ac := range contexts {
		agents[i] = agentInfo(ac, pathsByAgent[ac.AgentID()])
	}

	c.JSON(http.StatusOK, dto.AgentsResponse{
		Agents:                    agents,
		Count:                     len(agents),
		TotalScrapeRequestBacklog: manager.TotalAgentScrapeRequestBacklogSize(),
		ChunkedContexts:           manager.ChunkedContextSize(),
	})
}

// GetAgent returns one agent session.
// GET /agents/:agent_id
func (h *AgentsHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("agent_id")

	ac, ok := h.registry.AgentContextManager().GetAgentContext(agentID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "agent not found"})
		return
	}

	c.JSON(http.StatusOK, agentInfo(ac, h.pathsByAgent()[agentID]))
}

// EvictAgent invalidates and removes an agent session; its stream closes on
// the next poll cycle.
// DELETE /agents/:agent_id
func (h *AgentsHandler) EvictAgent(c *gin.Context) {
	agentID := c.Param("agent_id")

	if !h.registry.EvictAgent(agentID, "operator request") {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "agent not found"})
		return
	}

	slog.Info("Agent evicted by operator", "agent_id", agentID, "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, dto.EvictAgentResponse{AgentID: agentID, Message: "agent evicted"})
}

func (h *AgentsHandler) pathsByAgent() map[string][]string {
	result := make(map[string][]string)
	for path, agentID := range h.registry.PathManager().Paths() {
		result[agentID] = append(result[agentID], path)
	}
	for _, paths := range result {
		sort.Strings(paths)
	}
	return result
}

func agentInfo(ac *proxy.AgentContext, paths []string) dto.AgentInfo {
	if paths == nil {
		paths = []string{}
	}
	return dto.AgentInfo{
		AgentID:                 ac.AgentID(),
		AgentName:               ac.AgentName(),
		HostName:                ac.HostName(),
		RemoteAddr:              ac.RemoteAddr(),
		Valid:                   ac.IsValid(),
		InactivitySecs:          ac.InactivityDuration().Seconds(),
		ScrapeRequestBacklog:    ac.ScrapeRequestBacklogSize(),
		ScrapeRequestQueueLimit: ac.ScrapeRequestQueueCapacity(),
		Paths:                   paths,
	}
}

// agentIDLess orders numeric agent ids by value and falls back to string
// order for anything else.
func agentIDLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
