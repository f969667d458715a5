package domain

import "time"

// FailureReason classifies why a snapshot fetch produced no live position.
type FailureReason string

const (
	FailureNotFound      FailureReason = "not_found"
	FailureDryRun        FailureReason = "dry_run"
	FailureNotConfigured FailureReason = "not_configured"
	FailureHTTP          FailureReason = "http_error"
	FailureNetwork       FailureReason = "network_error"
)

// PositionSnapshot is the per-cycle view of an exchange-reported position,
// keyed by canonical symbol. It is a live cache, never persisted.
//
// Found=false means the exchange reports no open position; Failure says why.
// Found=true with a non-empty Failure means this cycle's fetch failed and the
// previous cycle's data was retained (Stale is set in that case).
//
// PnLRatio and UnrealizedPnL are pointers: the exchange may omit them, and an
// absent figure must not read as a reported zero. Nil means "derive it".
type PositionSnapshot struct {
	Symbol           string        `json:"symbol"` // canonical key
	Found            bool          `json:"found"`
	Side             Side          `json:"side,omitempty"`
	Size             float64       `json:"size,omitempty"`
	EntryPrice       float64       `json:"entry_price,omitempty"`
	MarkPrice        float64       `json:"mark_price,omitempty"`
	Margin           float64       `json:"margin,omitempty"`
	Leverage         int           `json:"leverage,omitempty"`
	LiquidationPrice float64       `json:"liquidation_price,omitempty"`
	PnLRatio         *float64      `json:"pnl_ratio,omitempty"`
	UnrealizedPnL    *float64      `json:"unrealized_pnl,omitempty"`
	Failure          FailureReason `json:"failure_reason,omitempty"`
	Stale            bool          `json:"stale,omitempty"`
	FetchedAt        time.Time     `json:"fetched_at"`
}

// Fresh reports whether the snapshot carries a live position observed this
// cycle. Stale carry-overs and not-found results are not fresh.
func (s *PositionSnapshot) Fresh() bool {
	return s != nil && s.Found && !s.Stale && s.Failure == ""
}
