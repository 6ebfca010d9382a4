package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) ScrapeAgent(ctx context.Context, agentID, path, accept string) (*proxy.ScrapeResults, error) {
	args := m.Called(agentID, path, accept)
	results, _ := args.Get(0).(*proxy.ScrapeResults)
	return results, args.Error(1)
}

func (m *mockScraper) ScrapePath(ctx context.Context, path, accept string) (*proxy.ScrapeResults, error) {
	args := m.Called(path, accept)
	results, _ := args.Get(0).(*proxy.ScrapeResults)
	return results, args.Error(1)
}

func newProxyEngine(scraper Scraper) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewProxyHandler(scraper)
	engine.GET("/proxy/:agent_id/*path", h.ScrapeAgent)
	engine.NoRoute(h.ScrapePath)
	return engine
}

func doRequest(engine *gin.Engine, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Accept", "text/plain")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestProxyHandler_ScrapeAgentSuccess(t *testing.T) {
	scraper := new(mockScraper)
	scraper.On("ScrapeAgent", "7", "node/metrics", "text/plain").Return(&proxy.ScrapeResults{
		AgentID:       "7",
		ValidResponse: true,
		StatusCode:    http.StatusOK,
		ContentType:   "text/plain; version=0.0.4",
		Content:       []byte("up 1\n"),
	}, nil)

	w := doRequest(newProxyEngine(scraper), http.MethodGet, "/proxy/7/node/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up 1\n", w.Body.String())
	assert.Equal(t, "text/plain; version=0.0.4", w.Header().Get("Content-Type"))
	scraper.AssertExpectations(t)
}

func TestProxyHandler_ScrapePathSuccess(t *testing.T) {
	scraper := new(mockScraper)
	scraper.On("ScrapePath", "app_metrics", "text/plain").Return(&proxy.ScrapeResults{
		ValidResponse: true,
		Content:       []byte("requests 3\n"),
	}, nil)

	w := doRequest(newProxyEngine(scraper), http.MethodGet, "/app_metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "requests 3\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	scraper.AssertExpectations(t)
}

func TestProxyHandler_ScrapePathRejectsNonGet(t *testing.T) {
	scraper := new(mockScraper)

	w := doRequest(newProxyEngine(scraper), http.MethodPost, "/app_metrics")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	scraper.AssertNotCalled(t, "ScrapePath", mock.Anything, mock.Anything)
}

func TestProxyHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown agent", proxy.ErrUnknownAgent, http.StatusNotFound},
		{"unknown path", proxy.ErrUnknownPath, http.StatusNotFound},
		{"queue full", fmt.Errorf("agent 1: %w", proxy.ErrQueueFull), http.StatusServiceUnavailable},
		{"invalidated", fmt.Errorf("agent 1: %w", proxy.ErrSessionInvalidated), http.StatusServiceUnavailable},
		{"timeout", proxy.ErrScrapeTimeout, http.StatusGatewayTimeout},
		{"disconnected", proxy.ErrAgentDisconnected, http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scraper := new(mockScraper)
			scraper.On("ScrapeAgent", "1", "m", "text/plain").Return(nil, tt.err)

			w := doRequest(newProxyEngine(scraper), http.MethodGet, "/proxy/1/m")

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestProxyHandler_AgentFailure(t *testing.T) {
	scraper := new(mockScraper)
	scraper.On("ScrapeAgent", "1", "m", "text/plain").Return(&proxy.ScrapeResults{
		ValidResponse: false,
		StatusCode:    http.StatusNotFound,
		FailureReason: "invalid path: m",
	}, nil)

	w := doRequest(newProxyEngine(scraper), http.MethodGet, "/proxy/1/m")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalid path: m", w.Body.String())
}

func TestProxyHandler_AgentFailureWithoutStatus(t *testing.T) {
	scraper := new(mockScraper)
	scraper.On("ScrapePath", "m", "text/plain").Return(&proxy.ScrapeResults{
		ValidResponse: false,
		FailureReason: "connection refused",
	}, nil)

	w := doRequest(newProxyEngine(scraper), http.MethodGet, "/m")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProxyHandler_MissingPath(t *testing.T) {
	scraper := new(mockScraper)

	w := doRequest(newProxyEngine(scraper), http.MethodGet, "/proxy/1/")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
