package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	internalhttp "github.com/leoncaiau912/prometheus-proxy/internal/api/http"
	grpcserver "github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
	grpctls "github.com/leoncaiau912/prometheus-proxy/internal/grpc/tls"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Prometheus Proxy", "version", AppVersion)

	if len(os.Args) > 1 && os.Args[1] == "issue-agent-cert" {
		if err := issueAgentCertificate(config.Grpc.TLS, os.Args[2:]); err != nil {
			slog.Error("Failed to issue agent certificate", "error", err)
			os.Exit(1)
		}
		return
	}

	if config.Grpc.TLS.Enabled && config.Grpc.TLS.AutoGenerate {
		if err := ensureCertificates(config.Grpc.TLS); err != nil {
			slog.Error("Failed to prepare TLS certificates", "error", err)
			os.Exit(1)
		}
	}

	grpcSrv := grpcserver.NewServer(config.ServerConfig())

	services := &internalhttp.Services{
		GrpcServer: grpcSrv,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "DELETE"},
		AllowHeaders:  []string{"Origin", "Accept", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}

func ensureCertificates(tlsConfig TLSConfig) error {
	var ips []net.IP
	for _, addr := range ParseCommaSeparated(tlsConfig.IPAddresses) {
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("invalid ip address %q", addr)
		}
		ips = append(ips, ip)
	}

	paths := grpctls.CertPaths{
		CACertFile: tlsConfig.CAFile,
		CAKeyFile:  tlsConfig.CAKeyFile,
		CertFile:   tlsConfig.CertFile,
		KeyFile:    tlsConfig.KeyFile,
	}
	if err := grpctls.EnsureServerCertificates(paths, ParseCommaSeparated(tlsConfig.DomainNames), ips); err != nil {
		return err
	}

	slog.Info("TLS certificates ready",
		"cert_file", tlsConfig.CertFile,
		"ca_file", tlsConfig.CAFile)
	return nil
}

// issueAgentCertificate handles "issue-agent-cert <agent-name> [output-dir]".
func issueAgentCertificate(tlsConfig TLSConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: issue-agent-cert <agent-name> [output-dir]")
	}
	agentName := args[0]
	outDir := filepath.Join("certs", "agents", agentName)
	if len(args) > 1 {
		outDir = args[1]
	}

	paths := grpctls.CertPaths{
		CACertFile: tlsConfig.CAFile,
		CAKeyFile:  tlsConfig.CAKeyFile,
		CertFile:   filepath.Join(outDir, agentName+".pem"),
		KeyFile:    filepath.Join(outDir, agentName+"-key.pem"),
	}
	if err := grpctls.IssueAgentCertificate(paths, agentName); err != nil {
		return err
	}

	slog.Info("Agent certificate issued",
		"agent_name", agentName,
		"cert_file", paths.CertFile,
		"key_file", paths.KeyFile)
	return nil
}
