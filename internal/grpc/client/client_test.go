package client

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startProxy(t *testing.T) (*server.Server, grpc.DialOption) {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.ScrapeRequestQueueCheck = 20 * time.Millisecond
	cfg.ScrapeRequestTimeout = 2 * time.Second
	cfg.StaleAgentCheckEnabled = false

	lis := bufconn.Listen(1 << 20)
	s := server.NewServer(cfg)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(func() {
		_ = s.StopWithTimeout(2 * time.Second)
	})

	return s, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func startAgent(t *testing.T, dialer grpc.DialOption, pathConfigs []PathConfig, chunkSize, minGzipSize int) *Client {
	t.Helper()

	c := NewClient(Config{
		ServerAddress:     "passthrough:///bufnet",
		AgentName:         "test-agent",
		HostName:          "test-host",
		PathConfigs:       pathConfigs,
		ScrapeTimeout:     time.Second,
		ChunkSize:         chunkSize,
		MinGzipSize:       minGzipSize,
		HeartbeatInterval: 50 * time.Millisecond,
		DialOptions:       []grpc.DialOption{dialer},
	})
	require.NoError(t, c.Start())
	t.Cleanup(func() {
		_ = c.Stop()
	})

	require.Eventually(t, func() bool {
		return c.AgentID() != ""
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestClient_RegistersWithProxy(t *testing.T) {
	s, dialer := startProxy(t)
	target := newTarget(t, "up 1\n")
	c := startAgent(t, dialer, []PathConfig{{Name: "node", Path: "node_metrics", URL: target.URL}}, 1024, 0)

	ac, ok := s.AgentContextManager().GetAgentContext(c.AgentID())
	require.True(t, ok)
	assert.Equal(t, "test-agent", ac.AgentName())
	assert.Equal(t, "test-host", ac.HostName())

	owner, ok := s.PathManager().GetAgentID("node_metrics")
	require.True(t, ok)
	assert.Equal(t, c.AgentID(), owner)
}

func TestClient_ScrapeThroughProxy(t *testing.T) {
	small := "up 1\n"
	large := strings.Repeat("http_requests_total{code=\"200\"} 1027\n", 200)

	s, dialer := startProxy(t)
	smallTarget := newTarget(t, small)
	largeTarget := newTarget(t, large)
	startAgent(t, dialer, []PathConfig{
		{Path: "small", URL: smallTarget.URL},
		{Path: "large", URL: largeTarget.URL},
	}, 256, 0)

	results, err := s.ScrapePath(context.Background(), "small", "text/plain")
	require.NoError(t, err)
	assert.True(t, results.ValidResponse)
	assert.Equal(t, 200, results.StatusCode)
	assert.Equal(t, small, string(results.Content))

	results, err = s.ScrapePath(context.Background(), "large", "text/plain")
	require.NoError(t, err)
	assert.True(t, results.ValidResponse)
	assert.Equal(t, large, string(results.Content))
}

func TestClient_ZippedScrapeThroughProxy(t *testing.T) {
	body := strings.Repeat("go_goroutines 12\n", 300)

	s, dialer := startProxy(t)
	target := newTarget(t, body)
	startAgent(t, dialer, []PathConfig{{Path: "zipped", URL: target.URL}}, 128, 512)

	results, err := s.ScrapePath(context.Background(), "zipped", "")
	require.NoError(t, err)
	assert.Equal(t, body, string(results.Content))
}

func TestClient_HeartbeatKeepsSessionActive(t *testing.T) {
	s, dialer := startProxy(t)
	target := newTarget(t, "")
	c := startAgent(t, dialer, []PathConfig{{Path: "m", URL: target.URL}}, 1024, 0)

	ac, ok := s.AgentContextManager().GetAgentContext(c.AgentID())
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)
	assert.Less(t, ac.InactivityDuration(), 150*time.Millisecond)
}

func TestClient_ReconnectsAfterEviction(t *testing.T) {
	s, dialer := startProxy(t)
	target := newTarget(t, "")
	c := startAgent(t, dialer, []PathConfig{{Path: "m", URL: target.URL}}, 1024, 0)

	first := c.AgentID()
	require.True(t, s.EvictAgent(first, "test"))

	require.Eventually(t, func() bool {
		id := c.AgentID()
		return id != "" && id != first
	}, 5*time.Second, 20*time.Millisecond)

	owner, ok := s.PathManager().GetAgentID("m")
	require.True(t, ok)
	assert.Equal(t, c.AgentID(), owner)
}

func TestClient_StartWithoutPaths(t *testing.T) {
	c := NewClient(Config{ServerAddress: "passthrough:///bufnet"})
	assert.Error(t, c.Start())
}

func TestClient_DisconnectDropsQueuedMessages(t *testing.T) {
	c := NewClient(Config{ServerAddress: "passthrough:///bufnet"})
	for i := 0; i < 3; i++ {
		c.sendCh <- &proto.ProxyMessage{Type: proto.MessageType_SCRAPE_RESPONSE, ScrapeId: int64(i)}
	}

	c.disconnect()

	assert.Empty(t, c.sendCh)
	assert.Empty(t, c.AgentID())
}
