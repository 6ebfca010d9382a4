package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	grpcclient "github.com/leoncaiau912/prometheus-proxy/internal/grpc/client"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Prometheus Agent", "version", AppVersion, "agent_name", config.Agent.Name)

	grpcClient := grpcclient.NewClient(config.ClientConfig())
	if err := grpcClient.Start(); err != nil {
		slog.Error("Failed to start agent", "error", err)
		os.Exit(1)
	}

	for _, pc := range config.Agent.PathConfigs {
		slog.Info("Serving scrape path", "name", pc.Name, "path", pc.Path, "url", pc.URL)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	if err := grpcClient.Stop(); err != nil {
		slog.Error("Agent stop error", "error", err)
	}
	slog.Info("Shutdown complete")
}
