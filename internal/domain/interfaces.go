package domain

import "context"

// Exchange defines the calls the engine consumes from the exchange
// collaborator. Symbols are canonical keys.
//
// GetPosition and GetPrice return ErrDryRun / ErrNotConfigured when the
// integration is unusable for the session, and *HTTPError for non-2xx
// responses; the poller classifies these, they are never fatal.
type Exchange interface {
	GetPosition(ctx context.Context, symbol string) (*PositionSnapshot, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, symbol string, side Side, size float64) (string, error)
	ClosePosition(ctx context.Context, symbol string) error
}

// TradeRepository is the storage collaborator owning the ledger.
// The ledger is append/transition-only; there is no delete.
type TradeRepository interface {
	AppendTrade(ctx context.Context, trade *TradeRecord) error

	// TransitionTrade moves a trade to a new status. Transitions from a
	// terminal status return ErrTradeFinal so concurrent close paths
	// converge idempotently.
	TransitionTrade(ctx context.Context, id string, status TradeStatus, fields TransitionFields) error

	GetTrade(ctx context.Context, id string) (*TradeRecord, error)
	ListTrades(ctx context.Context) ([]*TradeRecord, error)
	ListOpenTrades(ctx context.Context) ([]*TradeRecord, error)
}
