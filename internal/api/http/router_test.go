package http

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	grpcserver "github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func setupRouter(t *testing.T) (*gin.Engine, *grpcserver.Server, proto.ProxyServiceClient) {
	t.Helper()

	cfg := grpcserver.DefaultConfig()
	cfg.ScrapeRequestQueueCheck = 20 * time.Millisecond
	cfg.ScrapeRequestTimeout = time.Second
	cfg.StaleAgentCheckEnabled = false

	lis := bufconn.Listen(1 << 20)
	s := grpcserver.NewServer(cfg)
	go func() {
		_ = s.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		_ = s.StopWithTimeout(2 * time.Second)
	})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	SetupRoute(engine, &Services{GrpcServer: s})
	return engine, s, proto.NewProxyServiceClient(conn)
}

// fakeAgent registers over the raw stream and answers every scrape with body.
func fakeAgent(t *testing.T, client proto.ProxyServiceClient, paths, body string) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stream, err := client.Stream(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&proto.ProxyMessage{
		Id:       "register",
		Type:     proto.MessageType_REGISTER,
		Metadata: map[string]string{proto.MetaAgentName: "fake", proto.MetaPaths: paths},
	}))

	ack, err := stream.Recv()
	require.NoError(t, err)
	agentID := ack.GetMetadata(proto.MetaAgentID)

	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				return
			}
			if msg.Type != proto.MessageType_SCRAPE_REQUEST {
				continue
			}
			_ = stream.Send(&proto.ProxyMessage{
				Id:       "response",
				Type:     proto.MessageType_SCRAPE_RESPONSE,
				ScrapeId: msg.ScrapeId,
				Payload:  []byte(body),
				Metadata: map[string]string{
					proto.MetaValid:       "true",
					proto.MetaStatusCode:  "200",
					proto.MetaContentType: "text/plain; version=0.0.4",
				},
			})
		}
	}()

	return agentID
}

func get(engine *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRouter_ScrapeByAgentAndPath(t *testing.T) {
	engine, _, client := setupRouter(t)
	agentID := fakeAgent(t, client, "node_metrics", "up 1\n")

	w := get(engine, "/proxy/"+agentID+"/node_metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up 1\n", w.Body.String())

	w = get(engine, "/node_metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up 1\n", w.Body.String())
}

func TestRouter_UnknownAgentAndPath(t *testing.T) {
	engine, _, _ := setupRouter(t)

	assert.Equal(t, http.StatusNotFound, get(engine, "/proxy/404/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(engine, "/nothing_here").Code)
}

func TestRouter_Diagnostics(t *testing.T) {
	engine, s, client := setupRouter(t)
	agentID := fakeAgent(t, client, "m", "")

	w := get(engine, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"agents":1`)

	w = get(engine, "/agents/"+agentID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"agent_name":"fake"`)

	w = get(engine, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "proxy_agent_map_size 1")

	req := httptest.NewRequest(http.MethodDelete, "/agents/"+agentID, nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, s.AgentContextManager().AgentContextSize())
}
