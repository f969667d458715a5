package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avdev/alert_relay/internal/domain"
	"go.uber.org/zap"
)

// Alert is the payload TradingView posts to the webhook endpoint.
// Size may be given as a quantity or as a USD notional.
type Alert struct {
	Signal  string  `json:"signal"`
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	SizeUSD float64 `json:"size_usd"`
	Secret  string  `json:"secret"`
}

// AlertService turns an inbound alert into a ledger entry and an exchange
// order. Every transition is appended to the ledger and published as an
// event; the alert is recorded even when it ends up IGNORED or ERROR.
type AlertService struct {
	tradeRepo   domain.TradeRepository
	exchange    domain.Exchange
	events      *Broadcaster
	logger      *zap.Logger
	defaultSize float64
}

func NewAlertService(
	tradeRepo domain.TradeRepository,
	exchange domain.Exchange,
	events *Broadcaster,
	defaultSize float64,
	logger *zap.Logger,
) *AlertService {
	if defaultSize <= 0 {
		defaultSize = 1
	}
	return &AlertService{
		tradeRepo:   tradeRepo,
		exchange:    exchange,
		events:      events,
		logger:      logger,
		defaultSize: defaultSize,
	}
}

// HandleAlert records the alert and places the order. The returned trade
// reflects the final status of this pass (PLACED, IGNORED or ERROR).
func (a *AlertService) HandleAlert(ctx context.Context, alert Alert) (*domain.TradeRecord, error) {
	trade := &domain.TradeRecord{
		ID:         domain.NewTradeID(),
		Signal:     alert.Signal,
		Symbol:     alert.Symbol,
		EntryPrice: alert.Price,
		Size:       a.resolveSize(alert),
		SizeUSD:    alert.SizeUSD,
		Status:     domain.StatusReceived,
		CreatedAt:  time.Now(),
	}

	side, known := domain.SideFromSignal(alert.Signal)
	trade.Side = side

	if err := a.tradeRepo.AppendTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("append trade: %w", err)
	}
	a.publish(trade, "")

	if !known {
		a.logger.Warn("unknown signal, ignoring alert",
			zap.String("trade_id", trade.ID), zap.String("signal", alert.Signal))
		a.transition(ctx, trade, domain.StatusIgnored, domain.TransitionFields{Response: "unknown signal"})
		return trade, nil
	}

	key := trade.CanonicalKey()
	response, err := a.exchange.PlaceOrder(ctx, key, side, trade.Size)
	if err != nil {
		a.logger.Error("order placement failed",
			zap.String("trade_id", trade.ID),
			zap.String("symbol", key),
			zap.Error(err))
		a.transition(ctx, trade, domain.StatusError, domain.TransitionFields{Response: err.Error()})
		return trade, err
	}

	a.logger.Info("order placed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", key),
		zap.String("side", string(side)),
		zap.Float64("size", trade.Size))
	a.transition(ctx, trade, domain.StatusPlaced, domain.TransitionFields{Response: response})
	return trade, nil
}

// resolveSize prefers an explicit quantity, then converts a USD notional at
// the alert price, then falls back to the configured default.
func (a *AlertService) resolveSize(alert Alert) float64 {
	if alert.Size > 0 {
		return alert.Size
	}
	if alert.SizeUSD > 0 && alert.Price > 0 {
		return alert.SizeUSD / alert.Price
	}
	return a.defaultSize
}

func (a *AlertService) transition(ctx context.Context, trade *domain.TradeRecord, status domain.TradeStatus, fields domain.TransitionFields) {
	if err := a.tradeRepo.TransitionTrade(ctx, trade.ID, status, fields); err != nil {
		a.logger.Error("transition failed",
			zap.String("trade_id", trade.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	trade.Status = status
	trade.Response = fields.Response
	a.publish(trade, fields.Response)
}

func (a *AlertService) publish(trade *domain.TradeRecord, reason string) {
	a.events.Publish(Event{
		Type:    strings.ToLower(string(trade.Status)),
		TradeID: trade.ID,
		Symbol:  trade.CanonicalKey(),
		Reason:  reason,
	})
}
