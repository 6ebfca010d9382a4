package tests

import (
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthCheck(t *testing.T, baseURL string, agents int) {
	status, body := httpGet(t, baseURL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"agents":`+strconv.Itoa(agents))
}

// TestScrapeByPath scrapes through the path fallback route.
func TestScrapeByPath(t *testing.T, baseURL, path, want string) {
	status, body := httpGet(t, baseURL+"/"+path)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, want, body)
}

func TestScrapeByAgent(t *testing.T, baseURL, agentID, path, want string) {
	status, body := httpGet(t, baseURL+"/proxy/"+agentID+"/"+path)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, want, body)
}

func TestScrapeNotFound(t *testing.T, baseURL, agentID string) {
	t.Run("unknown path", func(t *testing.T) {
		status, _ := httpGet(t, baseURL+"/missing_metrics")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("unknown agent", func(t *testing.T) {
		status, _ := httpGet(t, baseURL+"/proxy/999999/metrics")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("path not configured on agent", func(t *testing.T) {
		status, body := httpGet(t, baseURL+"/proxy/"+agentID+"/not_configured")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Contains(t, body, "not_configured")
	})
}

func TestMetrics(t *testing.T, baseURL string) {
	status, body := httpGet(t, baseURL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `proxy_scrape_requests_total{outcome="success"}`)
	assert.Contains(t, body, "proxy_agent_map_size 1")
}
