package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/dto"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	agents  *proxy.AgentContextManager
	paths   *proxy.PathManager
	evicted []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		agents: proxy.NewAgentContextManager(),
		paths:  proxy.NewPathManager(),
	}
}

func (r *fakeRegistry) AgentContextManager() *proxy.AgentContextManager { return r.agents }
func (r *fakeRegistry) PathManager() *proxy.PathManager                 { return r.paths }

func (r *fakeRegistry) EvictAgent(agentID, reason string) bool {
	ac, ok := r.agents.RemoveAgentContext(agentID)
	if !ok {
		return false
	}
	ac.MarkInvalid()
	r.paths.RemoveByAgent(agentID)
	r.evicted = append(r.evicted, agentID)
	return true
}

func (r *fakeRegistry) addAgent(name string, paths ...string) *proxy.AgentContext {
	ac := proxy.NewAgentContext("10.0.0.1:1234", 4, 10*time.Millisecond)
	ac.SetAgentName(name)
	ac.SetHostName(name + ".local")
	r.agents.AddAgentContext(ac)
	for _, p := range paths {
		r.paths.AddPath(p, ac.AgentID())
	}
	return ac
}

func newAgentsEngine(registry AgentRegistry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewAgentsHandler(registry)
	engine.GET("/agents", h.ListAgents)
	engine.GET("/agents/:agent_id", h.GetAgent)
	engine.DELETE("/agents/:agent_id", h.EvictAgent)
	health := NewHealthHandler(registry)
	engine.GET("/health", health.Check)
	return engine
}

func TestAgentsHandler_ListAgents(t *testing.T) {
	registry := newFakeRegistry()
	a := registry.addAgent("a", "b_metrics", "a_metrics")
	registry.addAgent("b")
	require.NoError(t, a.AddToScrapeRequestQueue(proxy.NewScrapeRequest(a.AgentID(), "a_metrics", "")))

	w := httptest.NewRecorder()
	newAgentsEngine(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.AgentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 1, resp.TotalScrapeRequestBacklog)

	var found *dto.AgentInfo
	for i := range resp.Agents {
		if resp.Agents[i].AgentID == a.AgentID() {
			found = &resp.Agents[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "a", found.AgentName)
	assert.Equal(t, "a.local", found.HostName)
	assert.True(t, found.Valid)
	assert.Equal(t, 1, found.ScrapeRequestBacklog)
	assert.Equal(t, 4, found.ScrapeRequestQueueLimit)
	assert.Equal(t, []string{"a_metrics", "b_metrics"}, found.Paths)
}

func TestAgentsHandler_GetAgent(t *testing.T) {
	registry := newFakeRegistry()
	a := registry.addAgent("a")
	engine := newAgentsEngine(registry)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents/"+a.AgentID(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info dto.AgentInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, a.AgentID(), info.AgentID)
	assert.Equal(t, "10.0.0.1:1234", info.RemoteAddr)
	assert.Empty(t, info.Paths)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentsHandler_EvictAgent(t *testing.T) {
	registry := newFakeRegistry()
	a := registry.addAgent("a", "m")
	engine := newAgentsEngine(registry)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/agents/"+a.AgentID(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.False(t, a.IsValid())
	assert.Equal(t, 0, registry.agents.AgentContextSize())
	assert.Equal(t, 0, registry.paths.Size())
	assert.Equal(t, []string{a.AgentID()}, registry.evicted)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/agents/"+a.AgentID(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler_Check(t *testing.T) {
	registry := newFakeRegistry()
	registry.addAgent("a")

	w := httptest.NewRecorder()
	newAgentsEngine(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Agents)
}

func TestAgentIDLess(t *testing.T) {
	assert.True(t, agentIDLess("9", "10"))
	assert.False(t, agentIDLess("10", "9"))
	assert.False(t, agentIDLess("7", "7"))
	assert.True(t, agentIDLess("abc", "abd"))
}

func TestAgentsHandler_ListAgentsOrderedByID(t *testing.T) {
	registry := newFakeRegistry()
	for i := 0; i < 12; i++ {
		registry.addAgent("agent")
	}

	w := httptest.NewRecorder()
	newAgentsEngine(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.AgentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 12)
	for i := 1; i < len(resp.Agents); i++ {
		prev, err := strconv.ParseInt(resp.Agents[i-1].AgentID, 10, 64)
		require.NoError(t, err)
		next, err := strconv.ParseInt(resp.Agents[i].AgentID, 10, 64)
		require.NoError(t, err)
		assert.Less(t, prev, next)
	}
}
