package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/avdev/alert_relay/internal/domain"
	"github.com/avdev/alert_relay/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	tradeRepo domain.TradeRepository
	alerts    *usecase.AlertService
	monitor   *usecase.MonitorService
	events    *usecase.Broadcaster
	logger    *zap.Logger

	webhookSecret string
	streamToken   string
}

func NewServer(
	port int,
	tradeRepo domain.TradeRepository,
	alerts *usecase.AlertService,
	monitor *usecase.MonitorService,
	events *usecase.Broadcaster,
	webhookSecret, streamToken string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:        http.NewServeMux(),
		tradeRepo:     tradeRepo,
		alerts:        alerts,
		monitor:       monitor,
		events:        events,
		logger:        logger,
		webhookSecret: webhookSecret,
		streamToken:   streamToken,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Alert ingestion
	s.router.HandleFunc("POST /webhook", s.handleWebhook)

	// Ledger
	s.router.HandleFunc("GET /trades", s.handleListTrades)
	s.router.HandleFunc("POST /trades/{id}/close", s.handleCloseTrade)

	// Aggregated view for the dashboard
	s.router.HandleFunc("GET /api/overview", s.handleOverview)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Live event stream
	s.router.HandleFunc("GET /ws", s.handleWS)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
