package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

// Server hosts the webhook and operational HTTP endpoints.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(cfg *config.ServerConfig, handler *Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/calls/status", handler.handleStatusWebhook)
	mux.HandleFunc("POST /webhooks/calls/gather", handler.handleGatherWebhook)
	mux.HandleFunc("POST /webhooks/sms/inbound", handler.handleInboundSMS)
	mux.HandleFunc("GET /healthz", handler.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := recoveryMiddleware(logger)(loggingMiddleware(logger)(mux))

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
