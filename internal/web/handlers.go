package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avdev/alert_relay/internal/domain"
	"github.com/avdev/alert_relay/internal/usecase"
	"go.uber.org/zap"
)

// handleWebhook receives a TradingView alert, verifies the shared secret
// and hands the payload to the alert service. The alert is recorded in the
// ledger even when order placement fails.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var alert usecase.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		http.Error(w, "Payload must be JSON", http.StatusBadRequest)
		return
	}

	if s.webhookSecret != "" {
		headerSecret := r.Header.Get("Tradingview-Secret")
		if headerSecret == "" {
			headerSecret = alert.Secret
		}
		if headerSecret != s.webhookSecret {
			s.logger.Warn("webhook rejected, bad secret", zap.String("symbol", alert.Symbol))
			http.Error(w, "Invalid secret", http.StatusForbidden)
			return
		}
	}

	trade, err := s.alerts.HandleAlert(r.Context(), alert)
	if err != nil && trade == nil {
		s.logger.Error("failed to record alert", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, map[string]any{
		"ok":     trade.Status == domain.StatusPlaced,
		"id":     trade.ID,
		"status": trade.Status,
	})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.tradeRepo.ListTrades(r.Context())
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, trades)
}

// handleCloseTrade is the admin surface's manual close. A trade that
// already reached a terminal status through another path reports ok: the
// requested state holds either way.
func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.monitor.CloseTrade(r.Context(), id, "manual_close")
	switch {
	case errors.Is(err, domain.ErrTradeNotFound):
		http.Error(w, "Trade not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrTradeFinal):
		// Already closed; converged.
	case err != nil:
		s.logger.Error("Failed to close trade", zap.String("trade_id", id), zap.Error(err))
		http.Error(w, "Failed to close trade", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	view, err := s.monitor.GetAggregatedView(r.Context())
	if err != nil {
		s.logger.Error("Failed to build overview", zap.Error(err))
		http.Error(w, "Failed to build overview", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, view)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
