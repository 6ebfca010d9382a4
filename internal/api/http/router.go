package http

import (
	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/handler"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/middleware"
	grpcserver "github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
)

type Services struct {
	GrpcServer *grpcserver.Server
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.GrpcServer)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(srvs.GrpcServer.Metrics().Handler()))

	agentsHandler := handler.NewAgentsHandler(srvs.GrpcServer)
	agents := engine.Group("/agents")
	agents.GET("", agentsHandler.ListAgents)
	agents.GET("/:agent_id", agentsHandler.GetAgent)
	agents.DELETE("/:agent_id", agentsHandler.EvictAgent)

	proxyHandler := handler.NewProxyHandler(srvs.GrpcServer)
	engine.GET("/proxy/:agent_id/*path", proxyHandler.ScrapeAgent)
	// Everything else is a scrape path announced by some agent.
	engine.NoRoute(proxyHandler.ScrapePath)
}
