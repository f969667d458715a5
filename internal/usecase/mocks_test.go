package usecase_test

import (
	"context"
	"sync"

	"github.com/avdev/alert_relay/internal/domain"
)

// MockTradeRepo is an in-memory ledger with the same transition guard as
// the sqlite store.
type MockTradeRepo struct {
	mu     sync.Mutex
	Trades map[string]*domain.TradeRecord
	order  []string

	ListErr     error
	AppendErr   error
	Transitions []string // "id:status" in application order
}

func NewMockTradeRepo() *MockTradeRepo {
	return &MockTradeRepo{Trades: make(map[string]*domain.TradeRecord)}
}

func (m *MockTradeRepo) AppendTrade(ctx context.Context, t *domain.TradeRecord) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *t
	m.Trades[t.ID] = &copied
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MockTradeRepo) TransitionTrade(ctx context.Context, id string, status domain.TradeStatus, fields domain.TransitionFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.Trades[id]
	if !ok {
		return domain.ErrTradeNotFound
	}
	if !t.Status.IsOpen() {
		return domain.ErrTradeFinal
	}

	t.Status = status
	if fields.Response != "" {
		t.Response = fields.Response
	}
	if fields.ExitPrice != nil {
		v := *fields.ExitPrice
		t.ExitPrice = &v
	}
	if fields.RealizedPnL != nil {
		v := *fields.RealizedPnL
		t.RealizedPnL = &v
	}
	m.Transitions = append(m.Transitions, id+":"+string(status))
	return nil
}

func (m *MockTradeRepo) GetTrade(ctx context.Context, id string) (*domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Trades[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *MockTradeRepo) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TradeRecord
	for _, id := range m.order {
		copied := *m.Trades[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockTradeRepo) ListOpenTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	all, err := m.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.TradeRecord
	for _, t := range all {
		if t.Status.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTradeRepo) Status(id string) domain.TradeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Trades[id]; ok {
		return t.Status
	}
	return ""
}

// MockExchange serves canned snapshots and prices per canonical symbol.
type MockExchange struct {
	mu        sync.Mutex
	Snapshots map[string]*domain.PositionSnapshot
	SnapErrs  map[string]error
	Prices    map[string]float64
	PriceErr  error

	PlaceErr     error
	PlacedOrders []string // symbols in placement order
	CloseErr     error
	Closed       []string // symbols closed
	PosCalls     int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Snapshots: make(map[string]*domain.PositionSnapshot),
		SnapErrs:  make(map[string]error),
		Prices:    make(map[string]float64),
	}
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*domain.PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PosCalls++
	if err, ok := m.SnapErrs[symbol]; ok {
		return nil, err
	}
	if snap, ok := m.Snapshots[symbol]; ok {
		copied := *snap
		return &copied, nil
	}
	return &domain.PositionSnapshot{Symbol: symbol, Failure: domain.FailureNotFound}, nil
}

func (m *MockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	return m.Prices[symbol], nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, symbol string, side domain.Side, size float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.PlacedOrders = append(m.PlacedOrders, symbol)
	return `{"code":"00000"}`, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.Closed = append(m.Closed, symbol)
	return nil
}

// SetSnapshot replaces the canned snapshot for a symbol.
func (m *MockExchange) SetSnapshot(symbol string, snap *domain.PositionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap == nil {
		delete(m.Snapshots, symbol)
		return
	}
	snap.Symbol = symbol
	m.Snapshots[symbol] = snap
}

// SetSnapErr makes position fetches for a symbol fail with err.
func (m *MockExchange) SetSnapErr(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.SnapErrs, symbol)
		return
	}
	m.SnapErrs[symbol] = err
}
