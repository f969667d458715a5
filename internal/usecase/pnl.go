package usecase

import (
	"math"

	"github.com/avdev/alert_relay/internal/domain"
)

// PnLResult carries derived profit/loss figures. A false Valid flag means
// "unavailable": inputs were missing or non-finite. Unavailable is a defined
// result, never zero and never NaN/Inf.
type PnLResult struct {
	Unrealized      float64
	UnrealizedValid bool
	Realized        float64
	RealizedValid   bool
	ROIPercent      float64
	ROIValid        bool
}

// ComputePnL derives PnL and ROI for one trade.
//
// Closed trades prefer the stored realized PnL, falling back to
// (exit-entry)*size*direction. Open trades prefer the exchange-reported
// unrealized PnL and ratio from a fresh snapshot (those already account for
// fees and funding), falling back to a derivation from the mark price or
// fallbackPrice. ROI falls back to pnl/margin*100 with margin defaulting to
// notional/leverage.
func ComputePnL(trade *domain.TradeRecord, snap *domain.PositionSnapshot, fallbackPrice float64) PnLResult {
	if trade.Status.IsOpen() {
		return openPnL(trade, snap, fallbackPrice)
	}
	return closedPnL(trade)
}

func closedPnL(trade *domain.TradeRecord) PnLResult {
	var res PnLResult

	switch {
	case trade.RealizedPnL != nil && isFinite(*trade.RealizedPnL):
		res.Realized = *trade.RealizedPnL
		res.RealizedValid = true
	case trade.ExitPrice != nil && trade.EntryPrice > 0 && trade.Size > 0:
		pnl := (*trade.ExitPrice - trade.EntryPrice) * trade.Size * trade.Side.DirectionSign()
		if isFinite(pnl) {
			res.Realized = pnl
			res.RealizedValid = true
		}
	}

	if res.RealizedValid {
		res.ROIPercent, res.ROIValid = deriveROI(res.Realized, trade)
	}
	return res
}

func openPnL(trade *domain.TradeRecord, snap *domain.PositionSnapshot, fallbackPrice float64) PnLResult {
	var res PnLResult

	if snap.Fresh() {
		// Only figures the exchange actually reported are authoritative; an
		// absent one falls through to derivation below.
		if snap.UnrealizedPnL != nil && isFinite(*snap.UnrealizedPnL) {
			res.Unrealized = *snap.UnrealizedPnL
			res.UnrealizedValid = true
		}
		if snap.PnLRatio != nil && isFinite(*snap.PnLRatio) {
			res.ROIPercent = *snap.PnLRatio * 100
			res.ROIValid = true
		}
		if res.UnrealizedValid && res.ROIValid {
			return res
		}
	}

	if !res.UnrealizedValid {
		price := fallbackPrice
		if snap != nil && snap.MarkPrice > 0 {
			price = snap.MarkPrice
		}
		if price > 0 && trade.EntryPrice > 0 && trade.Size > 0 {
			pnl := (price - trade.EntryPrice) * trade.Size * trade.Side.DirectionSign()
			if isFinite(pnl) {
				res.Unrealized = pnl
				res.UnrealizedValid = true
			}
		}
	}

	if res.UnrealizedValid && !res.ROIValid {
		res.ROIPercent, res.ROIValid = deriveROI(res.Unrealized, trade)
	}
	return res
}

// deriveROI returns pnl relative to margin as a percentage. Margin defaults
// to notional/leverage when not reported; an undefined margin yields an
// unavailable ROI, never a division by zero.
func deriveROI(pnl float64, trade *domain.TradeRecord) (float64, bool) {
	margin := trade.Margin
	if margin <= 0 && trade.Leverage > 0 && trade.EntryPrice > 0 && trade.Size > 0 {
		margin = trade.EntryPrice * trade.Size / float64(trade.Leverage)
	}
	if margin <= 0 {
		return 0, false
	}
	roi := pnl / margin * 100
	if !isFinite(roi) {
		return 0, false
	}
	return roi, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PnLTotals aggregates across the ledger. Trades with unavailable values
// are excluded from the corresponding sum, not counted as zero.
type PnLTotals struct {
	Unrealized float64 `json:"unrealized"`
	Realized   float64 `json:"realized"`
	ROIPercent float64 `json:"roi_percent"`
	ROIValid   bool    `json:"roi_valid"`
}

// AggregateTotals sums unrealized PnL over open, non-suppressed trades and
// realized PnL over closed ones. Total ROI is aggregate PnL over aggregate
// margin of the trades that contributed.
func AggregateTotals(trades []*domain.TradeRecord, suppressed map[string]bool, snaps map[string]*domain.PositionSnapshot) PnLTotals {
	var totals PnLTotals
	var marginSum float64

	for _, t := range trades {
		if t.Status.IsOpen() && suppressed[t.ID] {
			continue
		}
		res := ComputePnL(t, snaps[t.CanonicalKey()], 0)

		var contributed float64
		switch {
		case t.Status.IsOpen() && res.UnrealizedValid:
			totals.Unrealized += res.Unrealized
			contributed = res.Unrealized
		case !t.Status.IsOpen() && res.RealizedValid:
			totals.Realized += res.Realized
			contributed = res.Realized
		default:
			continue
		}

		if res.ROIValid && res.ROIPercent != 0 {
			// Back out the margin this trade's ROI was computed against.
			marginSum += math.Abs(contributed / (res.ROIPercent / 100))
		}
	}

	if marginSum > 0 {
		totals.ROIPercent = (totals.Unrealized + totals.Realized) / marginSum * 100
		totals.ROIValid = isFinite(totals.ROIPercent)
		if !totals.ROIValid {
			totals.ROIPercent = 0
		}
	}
	return totals
}
