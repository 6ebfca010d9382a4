package systemtest

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/leoncaiau912/prometheus-proxy/internal/api/http"
	grpcclient "github.com/leoncaiau912/prometheus-proxy/internal/grpc/client"
	grpcserver "github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
	grpctls "github.com/leoncaiau912/prometheus-proxy/internal/grpc/tls"
	"github.com/leoncaiau912/prometheus-proxy/systemtest/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type system struct {
	proxy   *grpcserver.Server
	agent   *grpcclient.Client
	httpURL string
}

func startSystem(t *testing.T, targets map[string]string) *system {
	t.Helper()

	dir := t.TempDir()
	serverPaths := grpctls.CertPaths{
		CACertFile: filepath.Join(dir, "ca", "ca.pem"),
		CAKeyFile:  filepath.Join(dir, "ca", "ca-key.pem"),
		CertFile:   filepath.Join(dir, "server", "server.pem"),
		KeyFile:    filepath.Join(dir, "server", "server-key.pem"),
	}
	require.NoError(t, grpctls.EnsureServerCertificates(serverPaths, []string{"localhost"}, nil))

	agentPaths := serverPaths
	agentPaths.CertFile = filepath.Join(dir, "agent", "agent.pem")
	agentPaths.KeyFile = filepath.Join(dir, "agent", "agent-key.pem")
	require.NoError(t, grpctls.IssueAgentCertificate(agentPaths, "system-agent"))

	cfg := grpcserver.DefaultConfig()
	cfg.ScrapeRequestQueueCheck = 20 * time.Millisecond
	cfg.ScrapeRequestTimeout = 5 * time.Second
	cfg.MaxAgentInactivity = 2 * time.Second
	cfg.StaleAgentCheckPause = 100 * time.Millisecond
	cfg.TLS = &grpcserver.TLSConfig{
		Enabled:    true,
		CertFile:   serverPaths.CertFile,
		KeyFile:    serverPaths.KeyFile,
		CAFile:     serverPaths.CACertFile,
		ClientAuth: "require",
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	proxy := grpcserver.NewServer(cfg)
	go func() {
		_ = proxy.Serve(lis)
	}()
	t.Cleanup(func() {
		_ = proxy.StopWithTimeout(2 * time.Second)
	})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{GrpcServer: proxy})
	httpServer := httptest.NewServer(engine)
	t.Cleanup(httpServer.Close)

	var pathConfigs []grpcclient.PathConfig
	for path, body := range targets {
		target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			_, _ = io.WriteString(w, body)
		}))
		t.Cleanup(target.Close)
		pathConfigs = append(pathConfigs, grpcclient.PathConfig{Name: path, Path: path, URL: target.URL})
	}

	agent := grpcclient.NewClient(grpcclient.Config{
		ServerAddress: lis.Addr().String(),
		AgentName:     "system-agent",
		TLS: &grpcclient.TLSConfig{
			Enabled:            true,
			CertFile:           agentPaths.CertFile,
			KeyFile:            agentPaths.KeyFile,
			CAFile:             serverPaths.CACertFile,
			ServerNameOverride: "localhost",
		},
		PathConfigs:       pathConfigs,
		ScrapeTimeout:     time.Second,
		ChunkSize:         64,
		MinGzipSize:       512,
		HeartbeatInterval: 200 * time.Millisecond,
	})
	require.NoError(t, agent.Start())
	t.Cleanup(func() {
		_ = agent.Stop()
	})

	require.Eventually(t, func() bool {
		return agent.AgentID() != ""
	}, 5*time.Second, 20*time.Millisecond)

	return &system{proxy: proxy, agent: agent, httpURL: httpServer.URL}
}

func TestSystemIntegration(t *testing.T) {
	large := strings.Repeat("node_cpu_seconds_total{cpu=\"0\",mode=\"idle\"} 12345.67\n", 400)
	sys := startSystem(t, map[string]string{
		"small_metrics": "up 1\n",
		"large_metrics": large,
	})
	agentID := sys.agent.AgentID()

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, sys.httpURL, 1) })
	t.Run("ScrapeByPath", func(t *testing.T) { tests.TestScrapeByPath(t, sys.httpURL, "small_metrics", "up 1\n") })
	t.Run("ScrapeLargeZippedChunked", func(t *testing.T) {
		tests.TestScrapeByAgent(t, sys.httpURL, agentID, "large_metrics", large)
	})
	t.Run("NotFound", func(t *testing.T) { tests.TestScrapeNotFound(t, sys.httpURL, agentID) })

	t.Run("HeartbeatSurvivesStaleCheck", func(t *testing.T) {
		time.Sleep(2500 * time.Millisecond)
		_, ok := sys.proxy.AgentContextManager().GetAgentContext(agentID)
		assert.True(t, ok)
	})

	t.Run("Metrics", func(t *testing.T) { tests.TestMetrics(t, sys.httpURL) })
}
