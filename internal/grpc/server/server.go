package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	grpctls "github.com/leoncaiau912/prometheus-proxy/internal/grpc/tls"
	"github.com/leoncaiau912/prometheus-proxy/internal/metrics"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"google.golang.org/grpc"
)

type Config struct {
	Port                    int
	TLS                     *TLSConfig
	ScrapeRequestQueueSize  int
	ScrapeRequestQueueCheck time.Duration
	ScrapeRequestTimeout    time.Duration
	StaleAgentCheckEnabled  bool
	MaxAgentInactivity      time.Duration
	StaleAgentCheckPause    time.Duration
}

type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth string
}

func DefaultConfig() Config {
	return Config{
		Port:                    50051,
		ScrapeRequestQueueSize:  128,
		ScrapeRequestQueueCheck: 500 * time.Millisecond,
		ScrapeRequestTimeout:    90 * time.Second,
		StaleAgentCheckEnabled:  true,
		MaxAgentInactivity:      60 * time.Second,
		StaleAgentCheckPause:    10 * time.Second,
	}
}

type Server struct {
	proto.UnimplementedProxyServiceServer
	config               Config
	grpcServer           *grpc.Server
	agentContextManager  *proxy.AgentContextManager
	scrapeRequestManager *proxy.ScrapeRequestManager
	pathManager          *proxy.PathManager
	metrics              *metrics.ProxyMetrics
	streamHandler        *StreamHandler
	cleanupService       *AgentCleanupService
	mu                   sync.Mutex
	stopped              bool
}

func NewServer(config Config) *Server {
	s := &Server{
		config:               config,
		agentContextManager:  proxy.NewAgentContextManager(),
		scrapeRequestManager: proxy.NewScrapeRequestManager(),
		pathManager:          proxy.NewPathManager(),
	}
	s.metrics = metrics.NewProxyMetrics(s.agentContextManager, s.scrapeRequestManager, s.pathManager)
	s.streamHandler = NewStreamHandler(s)
	if config.StaleAgentCheckEnabled {
		s.cleanupService = NewAgentCleanupService(s, config.MaxAgentInactivity, config.StaleAgentCheckPause)
	}
	return s
}

func (s *Server) AgentContextManager() *proxy.AgentContextManager {
	return s.agentContextManager
}

func (s *Server) ScrapeRequestManager() *proxy.ScrapeRequestManager {
	return s.scrapeRequestManager
}

func (s *Server) PathManager() *proxy.PathManager {
	return s.pathManager
}

func (s *Server) Metrics() *metrics.ProxyMetrics {
	return s.metrics
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	slog.Info("Starting gRPC server", "port", s.config.Port)
	return s.Serve(lis)
}

// Serve accepts agent streams on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	var opts []grpc.ServerOption
	if s.config.TLS != nil && s.config.TLS.Enabled {
		clientAuth, err := grpctls.ParseClientAuthType(s.config.TLS.ClientAuth)
		if err != nil {
			return err
		}
		creds, err := grpctls.LoadServerCredentials(s.config.TLS.CertFile, s.config.TLS.KeyFile, s.config.TLS.CAFile, clientAuth)
		if err != nil {
			return fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", s.config.TLS.ClientAuth)
	}

	grpcServer := grpc.NewServer(opts...)
	proto.RegisterProxyServiceServer(grpcServer, s)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.grpcServer = grpcServer
	s.mu.Unlock()

	if s.cleanupService != nil {
		s.cleanupService.Start()
	}

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

	if s.cleanupService != nil {
		s.cleanupService.Stop()
	}

	// Invalidated sessions end their streams within one poll interval.
	for _, ac := range s.agentContextManager.AgentContexts() {
		s.EvictAgent(ac.AgentID(), "proxy shutdown")
	}

	s.mu.Lock()
	s.stopped = true
	grpcServer := s.grpcServer
	s.mu.Unlock()
	if grpcServer == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}

func (s *Server) Stream(stream proto.ProxyService_StreamServer) error {
	return s.streamHandler.HandleStream(stream)
}

// EvictAgent invalidates and unregisters an agent session. Its stream closes
// on the next poll cycle. It reports whether the agent was registered.
func (s *Server) EvictAgent(agentID, reason string) bool {
	ac, ok := s.agentContextManager.GetAgentContext(agentID)
	if !ok {
		return false
	}
	ac.MarkInvalid()
	if _, ok := s.agentContextManager.RemoveAgentContext(agentID); !ok {
		return false
	}
	s.pathManager.RemoveByAgent(agentID)
	s.metrics.IncEviction()

	slog.Info("Agent evicted",
		"agent_id", agentID,
		"agent_name", ac.AgentName(),
		"reason", reason,
		"inactivity", ac.InactivityDuration().Round(time.Millisecond))
	return true
}
