package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avdev/alert_relay/internal/domain"
	"go.uber.org/zap"
)

// MonitorService owns the poll -> reconcile -> recompute cycle and the
// aggregated view served to the presentation layer.
type MonitorService struct {
	tradeRepo domain.TradeRepository
	exchange  domain.Exchange
	poller    *SnapshotPoller
	events    *Broadcaster
	logger    *zap.Logger

	watchlist []string
	interval  time.Duration

	mu          sync.RWMutex
	snapshots   map[string]*domain.PositionSnapshot // this cycle
	prev        map[string]*domain.PositionSnapshot // previous cycle
	suppressed  map[string]bool                     // trade ID -> duplicate
	seenSymbols map[string]bool                     // canonical keys seen historically
}

func NewMonitorService(
	tradeRepo domain.TradeRepository,
	exchange domain.Exchange,
	poller *SnapshotPoller,
	events *Broadcaster,
	watchlist []string,
	interval time.Duration,
	logger *zap.Logger,
) *MonitorService {
	canonical := make([]string, 0, len(watchlist))
	for _, s := range watchlist {
		if key := domain.CanonicalSymbol(s); key != "" {
			canonical = append(canonical, key)
		}
	}

	return &MonitorService{
		tradeRepo:   tradeRepo,
		exchange:    exchange,
		poller:      poller,
		events:      events,
		watchlist:   canonical,
		interval:    interval,
		logger:      logger,
		snapshots:   make(map[string]*domain.PositionSnapshot),
		prev:        make(map[string]*domain.PositionSnapshot),
		suppressed:  make(map[string]bool),
		seenSymbols: make(map[string]bool),
	}
}

// Start drives the recurring cycle until ctx is cancelled. A tick that
// arrives while the previous cycle is still running is skipped, not queued,
// so exchange call concurrency stays bounded under slow responses.
func (m *MonitorService) Start(ctx context.Context) {
	m.logger.Info("monitor started", zap.Duration("interval", m.interval))

	if err := m.RunCycle(ctx); err != nil {
		m.logger.Error("initial cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			if err := m.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("cycle failed", zap.Error(err))
			}
			// A tick that fired while the cycle ran is stale: drop it so
			// slow cycles skip ticks instead of queueing them.
			select {
			case <-ticker.C:
				m.logger.Warn("cycle outran poll interval, skipping tick")
			default:
			}
		}
	}
}

// RunCycle executes one poll -> reconcile -> apply pass. Fetch-level errors
// never escape the poller; only a ledger read failure aborts the cycle.
func (m *MonitorService) RunCycle(ctx context.Context) error {
	open, err := m.tradeRepo.ListOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("list open trades: %w", err)
	}

	symbols := m.trackedSymbols(open)
	snaps := m.poller.Poll(ctx, symbols)

	m.mu.RLock()
	cur := m.snapshots
	m.mu.RUnlock()

	// Actions are computed from one consistent snapshot map; the previous
	// cycle's map serves as the delta baseline.
	actions := Reconcile(open, snaps, cur)

	suppressed := make(map[string]bool)
	for _, a := range actions {
		switch a.Type {
		case ActionSuppress:
			suppressed[a.TradeID] = true
		case ActionClose:
			m.applyClose(ctx, findTrade(open, a.TradeID), a.Reason, snaps)
		}
	}

	m.mu.Lock()
	m.prev = cur
	m.snapshots = snaps
	m.suppressed = suppressed
	m.mu.Unlock()

	return nil
}

// trackedSymbols is the union of open-trade symbols, historically seen
// symbols, and the configured watchlist.
func (m *MonitorService) trackedSymbols(trades []*domain.TradeRecord) []string {
	m.mu.Lock()
	for _, t := range trades {
		if key := t.CanonicalKey(); key != "" {
			m.seenSymbols[key] = true
		}
	}
	set := make(map[string]bool, len(m.seenSymbols)+len(m.watchlist))
	for key := range m.seenSymbols {
		set[key] = true
	}
	m.mu.Unlock()

	for _, key := range m.watchlist {
		set[key] = true
	}

	symbols := make([]string, 0, len(set))
	for key := range set {
		symbols = append(symbols, key)
	}
	sort.Strings(symbols)
	return symbols
}

// applyClose transitions a trade to CLOSED following exchange reality.
// The exchange no longer reports the position, so exit price and realized
// PnL are derived from the last known mark; when nothing is known they stay
// null and the PnL view reports unavailable.
func (m *MonitorService) applyClose(ctx context.Context, trade *domain.TradeRecord, reason string, snaps map[string]*domain.PositionSnapshot) {
	if trade == nil {
		return
	}

	fields := domain.TransitionFields{Response: reason}

	mark := m.lastKnownMark(trade.CanonicalKey(), snaps)
	if mark > 0 {
		fields.ExitPrice = &mark
		res := ComputePnL(trade, nil, mark)
		if res.UnrealizedValid {
			realized := res.Unrealized
			fields.RealizedPnL = &realized
		}
	}

	err := m.tradeRepo.TransitionTrade(ctx, trade.ID, domain.StatusClosed, fields)
	if err != nil {
		if errors.Is(err, domain.ErrTradeFinal) {
			// Concurrent close already won; converged, nothing to do.
			m.logger.Debug("close raced with another path", zap.String("trade_id", trade.ID))
			return
		}
		m.logger.Error("close transition failed",
			zap.String("trade_id", trade.ID), zap.Error(err))
		return
	}

	m.logger.Info("trade closed by reconciliation",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.CanonicalKey()),
		zap.String("reason", reason))

	m.events.Publish(Event{
		Type:    strings.ToLower(string(domain.StatusClosed)),
		TradeID: trade.ID,
		Symbol:  trade.CanonicalKey(),
		Reason:  reason,
	})
}

// lastKnownMark prefers this cycle's mark, then the previous cycle's.
func (m *MonitorService) lastKnownMark(key string, snaps map[string]*domain.PositionSnapshot) float64 {
	if s := snaps[key]; s != nil && s.MarkPrice > 0 {
		return s.MarkPrice
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.snapshots[key]; s != nil && s.MarkPrice > 0 {
		return s.MarkPrice
	}
	if s := m.prev[key]; s != nil && s.MarkPrice > 0 {
		return s.MarkPrice
	}
	return 0
}

// CloseTrade handles a manual close requested by the admin surface. The
// exchange position is closed first, then the ledger transitions; a trade
// already closed by a concurrent path converges as a no-op.
func (m *MonitorService) CloseTrade(ctx context.Context, tradeID, reason string) error {
	trade, err := m.tradeRepo.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if !trade.Status.IsOpen() {
		return domain.ErrTradeFinal
	}

	key := trade.CanonicalKey()
	if err := m.exchange.ClosePosition(ctx, key); err != nil {
		// Dry-run and unconfigured sessions have no live position to
		// close; the ledger transition below is still the right outcome.
		if !errors.Is(err, domain.ErrDryRun) && !errors.Is(err, domain.ErrNotConfigured) {
			return fmt.Errorf("close position %s: %w", key, err)
		}
	}

	fields := domain.TransitionFields{Response: reason}
	if mark := m.lastKnownMark(key, nil); mark > 0 {
		fields.ExitPrice = &mark
		res := ComputePnL(trade, nil, mark)
		if res.UnrealizedValid {
			realized := res.Unrealized
			fields.RealizedPnL = &realized
		}
	}

	if err := m.tradeRepo.TransitionTrade(ctx, tradeID, domain.StatusClosed, fields); err != nil {
		if errors.Is(err, domain.ErrTradeFinal) {
			return nil
		}
		return err
	}

	m.logger.Info("trade closed manually",
		zap.String("trade_id", tradeID), zap.String("reason", reason))
	m.events.Publish(Event{
		Type:    strings.ToLower(string(domain.StatusClosed)),
		TradeID: tradeID,
		Symbol:  key,
		Reason:  reason,
	})
	return nil
}

// TradeView is a ledger entry with its view-level reconciliation state.
type TradeView struct {
	*domain.TradeRecord
	Suppressed      bool     `json:"suppressed"`
	Unrealized      *float64 `json:"unrealized,omitempty"`
	Realized        *float64 `json:"realized,omitempty"`
	ROIPercent      *float64 `json:"roi_percent,omitempty"`
	CanonicalSymbol string   `json:"canonical_symbol"`
}

// AggregatedView is the full state handed to the presentation collaborator.
// The shape is always fully populated: a cycle where every fetch failed
// still yields entries (carrying failure reasons), never a broken response.
type AggregatedView struct {
	Trades    []TradeView                         `json:"trades"`
	Totals    PnLTotals                           `json:"totals"`
	Positions map[string]*domain.PositionSnapshot `json:"positions"`
	Poller    PollerState                         `json:"poller_state"`
}

func (m *MonitorService) GetAggregatedView(ctx context.Context) (*AggregatedView, error) {
	trades, err := m.tradeRepo.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	m.mu.RLock()
	snaps := make(map[string]*domain.PositionSnapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		snaps[k] = v
	}
	suppressed := make(map[string]bool, len(m.suppressed))
	for k, v := range m.suppressed {
		suppressed[k] = v
	}
	m.mu.RUnlock()

	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		key := t.CanonicalKey()
		res := ComputePnL(t, snaps[key], 0)

		view := TradeView{
			TradeRecord:     t,
			Suppressed:      t.Status.IsOpen() && suppressed[t.ID],
			CanonicalSymbol: key,
		}
		if res.UnrealizedValid {
			v := res.Unrealized
			view.Unrealized = &v
		}
		if res.RealizedValid {
			v := res.Realized
			view.Realized = &v
		}
		if res.ROIValid {
			v := res.ROIPercent
			view.ROIPercent = &v
		}
		views = append(views, view)
	}

	return &AggregatedView{
		Trades:    views,
		Totals:    AggregateTotals(trades, suppressed, snaps),
		Positions: snaps,
		Poller:    m.poller.State(),
	}, nil
}

func findTrade(trades []*domain.TradeRecord, id string) *domain.TradeRecord {
	for _, t := range trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}
