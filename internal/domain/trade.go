package domain

import (
	"strings"
	"time"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideFromSignal maps alert vocabulary (BUY/SELL/LONG/SHORT) to a side.
// Returns false for anything else; such alerts are recorded as IGNORED.
func SideFromSignal(signal string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(signal)) {
	case "BUY", "LONG":
		return SideLong, true
	case "SELL", "SHORT":
		return SideShort, true
	}
	return "", false
}

// DirectionSign is +1 for LONG and -1 for SHORT.
func (s Side) DirectionSign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type TradeStatus string

const (
	StatusReceived TradeStatus = "RECEIVED"
	StatusPlaced   TradeStatus = "PLACED"
	StatusClosed   TradeStatus = "CLOSED"
	StatusRejected TradeStatus = "REJECTED"
	StatusError    TradeStatus = "ERROR"
	StatusIgnored  TradeStatus = "IGNORED"
)

// IsOpen reports whether the status maps to the logical OPEN state.
// RECEIVED and PLACED are open; everything else is terminal.
func (s TradeStatus) IsOpen() bool {
	return s == StatusReceived || s == StatusPlaced
}

// TradeRecord is one lifecycle entity per alert-derived position attempt.
// The ledger is append/transition-only: records are never deleted, and a
// record in a terminal status never changes again.
type TradeRecord struct {
	ID          string      `json:"id"`
	Signal      string      `json:"signal"`
	Symbol      string      `json:"symbol"` // raw spelling as received
	Side        Side        `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	Size        float64     `json:"size"`
	SizeUSD     float64     `json:"size_usd"`
	Leverage    int         `json:"leverage"` // 0 = not reported
	Margin      float64     `json:"margin"`   // 0 = not reported
	Status      TradeStatus `json:"status"`
	Response    string      `json:"response"`
	ExitPrice   *float64    `json:"exit_price"`
	RealizedPnL *float64    `json:"realized_pnl"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CanonicalKey is the normalized join key against position snapshots.
func (t *TradeRecord) CanonicalKey() string {
	return CanonicalSymbol(t.Symbol)
}

// TransitionFields carries the optional columns set on a status transition.
// Nil pointers leave the stored values untouched.
type TransitionFields struct {
	ExitPrice   *float64
	RealizedPnL *float64
	Response    string
}
