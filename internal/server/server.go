package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/scholargraph-backend/internal/http/handlers"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

type Server struct {
	log    *logger.Logger
	engine *gin.Engine
	http   *http.Server
}

func New(log *logger.Logger, port string, ingest *handlers.IngestHandler, health *handlers.HealthHandler) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/healthz", health.HealthCheck)

	api := engine.Group("/api")
	api.POST("/papers/:paperID/ingest", ingest.IngestPaper)
	api.POST("/aggregations/recompute", ingest.RecomputeAggregations)
	api.GET("/retry-queue", ingest.ListRetryQueue)
	api.POST("/retry-queue/drain", ingest.DrainRetryQueue)

	return &Server{
		log:    log.With("component", "HTTPServer"),
		engine: engine,
		http: &http.Server{
			Addr:              ":" + port,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
