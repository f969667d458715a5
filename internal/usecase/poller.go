package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avdev/alert_relay/internal/domain"
	"go.uber.org/zap"
)

type PollerState string

const (
	PollerActive   PollerState = "ACTIVE"
	PollerDisabled PollerState = "DISABLED"
)

const defaultFetchWorkers = 5

// SnapshotPoller fetches live position and price data per tracked symbol.
//
// The poller is a circuit breaker: the first classified dry_run or
// not_configured failure latches it into DISABLED and every later cycle
// skips all exchange calls until process restart. HTTP/network failures are
// transient; the last good snapshot for the symbol is retained and marked
// stale with the cycle's failure reason.
type SnapshotPoller struct {
	exchange domain.Exchange
	logger   *zap.Logger
	workers  int

	mu            sync.Mutex
	state         PollerState
	disableReason domain.FailureReason
	lastGood      map[string]*domain.PositionSnapshot
}

func NewSnapshotPoller(exchange domain.Exchange, logger *zap.Logger) *SnapshotPoller {
	return &SnapshotPoller{
		exchange: exchange,
		logger:   logger,
		workers:  defaultFetchWorkers,
		state:    PollerActive,
		lastGood: make(map[string]*domain.PositionSnapshot),
	}
}

func (p *SnapshotPoller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Poll fetches a snapshot for every requested symbol. The returned map
// always contains an entry per symbol; a symbol is never silently dropped.
// Symbols are canonical keys.
func (p *SnapshotPoller) Poll(ctx context.Context, symbols []string) map[string]*domain.PositionSnapshot {
	// Deterministic fetch order; map iteration upstream is randomized.
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	out := make(map[string]*domain.PositionSnapshot, len(sorted))

	if p.State() == PollerDisabled {
		for _, sym := range sorted {
			out[sym] = p.disabledSnapshot(sym)
		}
		return out
	}

	var (
		outMu sync.Mutex
		wg    sync.WaitGroup
	)
	semaphore := make(chan struct{}, p.workers)

	for _, sym := range sorted {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			snap := p.fetchOne(ctx, symbol)
			outMu.Lock()
			out[symbol] = snap
			outMu.Unlock()
		}(sym)
	}
	wg.Wait()

	// A latch mid-cycle leaves already-fetched entries intact but rewrites
	// nothing; later cycles short-circuit above.
	return out
}

func (p *SnapshotPoller) fetchOne(ctx context.Context, symbol string) *domain.PositionSnapshot {
	// Re-check under the latch: another worker may have disabled us while
	// we waited on the semaphore.
	if p.State() == PollerDisabled {
		return p.disabledSnapshot(symbol)
	}

	snap, err := p.exchange.GetPosition(ctx, symbol)
	if err != nil {
		return p.classifyFailure(symbol, err)
	}

	snap.Symbol = symbol
	snap.FetchedAt = time.Now()

	if !snap.Found {
		if snap.Failure == "" {
			snap.Failure = domain.FailureNotFound
		}
		p.forget(symbol)
		return snap
	}

	// Resolve a mark price for downstream PnL when the position payload
	// did not carry one. A price failure does not invalidate the position.
	if snap.MarkPrice == 0 {
		price, err := p.exchange.GetPrice(ctx, symbol)
		if err != nil {
			p.logger.Debug("mark price fetch failed",
				zap.String("symbol", symbol), zap.Error(err))
		} else {
			snap.MarkPrice = price
		}
	}

	p.remember(symbol, snap)
	return snap
}

func (p *SnapshotPoller) classifyFailure(symbol string, err error) *domain.PositionSnapshot {
	reason := domain.ClassifyFetchFailure(err)

	switch reason {
	case domain.FailureDryRun, domain.FailureNotConfigured:
		p.disable(reason, err)
		return p.disabledSnapshot(symbol)

	default:
		// Transient. Retain the previous snapshot if one existed, marked
		// with this cycle's failure so the data is never silently stale.
		p.logger.Warn("position fetch failed",
			zap.String("symbol", symbol),
			zap.String("reason", string(reason)),
			zap.Error(err))

		p.mu.Lock()
		prev := p.lastGood[symbol]
		p.mu.Unlock()

		if prev != nil {
			retained := *prev
			retained.Failure = reason
			retained.Stale = true
			return &retained
		}
		return &domain.PositionSnapshot{
			Symbol:    symbol,
			Found:     false,
			Failure:   reason,
			FetchedAt: time.Now(),
		}
	}
}

func (p *SnapshotPoller) disable(reason domain.FailureReason, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollerDisabled {
		return
	}
	p.state = PollerDisabled
	p.disableReason = reason
	p.lastGood = make(map[string]*domain.PositionSnapshot)
	p.logger.Warn("poller disabled until restart",
		zap.String("reason", string(reason)), zap.Error(err))
}

func (p *SnapshotPoller) disabledSnapshot(symbol string) *domain.PositionSnapshot {
	p.mu.Lock()
	reason := p.disableReason
	p.mu.Unlock()
	return &domain.PositionSnapshot{
		Symbol:    symbol,
		Found:     false,
		Failure:   reason,
		FetchedAt: time.Now(),
	}
}

func (p *SnapshotPoller) remember(symbol string, snap *domain.PositionSnapshot) {
	copied := *snap
	p.mu.Lock()
	p.lastGood[symbol] = &copied
	p.mu.Unlock()
}

func (p *SnapshotPoller) forget(symbol string) {
	p.mu.Lock()
	delete(p.lastGood, symbol)
	p.mu.Unlock()
}
