package usecase_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avdev/alert_relay/internal/domain"
	"github.com/avdev/alert_relay/internal/usecase"
)

func float64Ptr(v float64) *float64 { return &v }

func TestComputePnL_OpenLong_DerivedFromMark(t *testing.T) {
	// A fresh snapshot that carries only a mark price: unrealized PnL is
	// derived, never read off the zero value of an absent exchange figure.
	trade := &domain.TradeRecord{
		ID:         "t1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		EntryPrice: 60000,
		Size:       0.1,
		Status:     domain.StatusPlaced,
	}
	snap := &domain.PositionSnapshot{
		Symbol: "BTCUSDT", Found: true, Side: domain.SideLong,
		MarkPrice: 61000,
	}

	res := usecase.ComputePnL(trade, snap, 0)
	assert.True(t, res.UnrealizedValid)
	assert.InDelta(t, 100.0, res.Unrealized, 1e-9) // (61000-60000)*0.1
}

func TestComputePnL_StaleSnapshot_DerivedFromMark(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
		Status: domain.StatusPlaced,
	}
	snap := &domain.PositionSnapshot{
		Symbol: "BTCUSDT", Found: true, Side: domain.SideLong,
		MarkPrice: 61000, Failure: domain.FailureHTTP, Stale: true,
		UnrealizedPnL: float64Ptr(97.5), // stale figure, not authoritative
	}

	res := usecase.ComputePnL(trade, snap, 0)
	assert.True(t, res.UnrealizedValid)
	assert.InDelta(t, 100.0, res.Unrealized, 1e-9)
}

func TestComputePnL_ReportedZeroIsAuthoritative(t *testing.T) {
	// A flat position genuinely reported as 0 by the exchange stays 0; it
	// must not be replaced by a derivation.
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1, Leverage: 10,
		Status: domain.StatusPlaced,
	}
	snap := &domain.PositionSnapshot{
		Symbol: "BTCUSDT", Found: true, Side: domain.SideLong,
		MarkPrice:     61000,
		UnrealizedPnL: float64Ptr(0),
		PnLRatio:      float64Ptr(0),
	}

	res := usecase.ComputePnL(trade, snap, 0)
	assert.True(t, res.UnrealizedValid)
	assert.Zero(t, res.Unrealized)
	assert.True(t, res.ROIValid)
	assert.Zero(t, res.ROIPercent)
}

func TestComputePnL_OpenShort_DirectionSign(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideShort, EntryPrice: 60000, Size: 0.1,
		Status: domain.StatusPlaced,
	}

	res := usecase.ComputePnL(trade, nil, 61000)
	assert.True(t, res.UnrealizedValid)
	assert.InDelta(t, -100.0, res.Unrealized, 1e-9)
}

func TestComputePnL_FreshSnapshot_PreferredOverDerivation(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
		Status: domain.StatusPlaced,
	}
	snap := &domain.PositionSnapshot{
		Symbol: "BTCUSDT", Found: true, Side: domain.SideLong,
		MarkPrice: 61000, UnrealizedPnL: float64Ptr(97.5), PnLRatio: float64Ptr(0.0163),
	}

	res := usecase.ComputePnL(trade, snap, 0)
	assert.True(t, res.UnrealizedValid)
	assert.InDelta(t, 97.5, res.Unrealized, 1e-9) // exchange figure, fees included
	assert.True(t, res.ROIValid)
	assert.InDelta(t, 1.63, res.ROIPercent, 1e-9)
}

func TestComputePnL_NoPriceAnywhere_Unavailable(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
		Status: domain.StatusPlaced,
	}

	res := usecase.ComputePnL(trade, nil, 0)
	assert.False(t, res.UnrealizedValid)
	assert.False(t, res.ROIValid)
	assert.Zero(t, res.Unrealized)
}

func TestComputePnL_ClosedTrade_StoredRealized(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
		Status:      domain.StatusClosed,
		ExitPrice:   float64Ptr(62000),
		RealizedPnL: float64Ptr(195.5),
	}

	res := usecase.ComputePnL(trade, nil, 0)
	assert.True(t, res.RealizedValid)
	assert.InDelta(t, 195.5, res.Realized, 1e-9)
	assert.False(t, res.UnrealizedValid)
}

func TestComputePnL_ClosedTrade_DerivedFromExit(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideShort, EntryPrice: 60000, Size: 0.1,
		Status:    domain.StatusClosed,
		ExitPrice: float64Ptr(58000),
	}

	res := usecase.ComputePnL(trade, nil, 0)
	assert.True(t, res.RealizedValid)
	assert.InDelta(t, 200.0, res.Realized, 1e-9) // (58000-60000)*0.1*-1
}

func TestComputePnL_NeverNaNOrInf(t *testing.T) {
	poisoned := []*domain.TradeRecord{
		{Side: domain.SideLong, EntryPrice: math.NaN(), Size: 0.1, Status: domain.StatusPlaced},
		{Side: domain.SideLong, EntryPrice: 60000, Size: math.Inf(1), Status: domain.StatusPlaced},
		{Side: domain.SideLong, EntryPrice: 60000, Size: 0.1, Status: domain.StatusClosed, RealizedPnL: float64Ptr(math.NaN())},
		{Side: domain.SideLong, EntryPrice: 60000, Size: 0.1, Status: domain.StatusClosed, ExitPrice: float64Ptr(math.Inf(-1))},
	}
	snap := &domain.PositionSnapshot{
		Symbol: "BTCUSDT", Found: true, Side: domain.SideLong,
		UnrealizedPnL: float64Ptr(math.NaN()), PnLRatio: float64Ptr(math.Inf(1)),
		MarkPrice: 61000,
	}

	for i, trade := range poisoned {
		res := usecase.ComputePnL(trade, snap, 61000)
		for name, v := range map[string]float64{
			"unrealized": res.Unrealized,
			"realized":   res.Realized,
			"roi":        res.ROIPercent,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("case %d: %s is non-finite: %v", i, name, v)
			}
		}
	}
}

func TestComputePnL_ROIMarginDefault(t *testing.T) {
	// margin not reported: defaults to notional/leverage = 6000/10 = 600.
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1, Leverage: 10,
		Status: domain.StatusPlaced,
	}

	res := usecase.ComputePnL(trade, nil, 61000)
	assert.True(t, res.ROIValid)
	assert.InDelta(t, 100.0/600.0*100, res.ROIPercent, 1e-9)
}

func TestComputePnL_ROIUnavailableWithoutMarginOrLeverage(t *testing.T) {
	trade := &domain.TradeRecord{
		Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
		Status: domain.StatusPlaced,
	}

	res := usecase.ComputePnL(trade, nil, 61000)
	assert.True(t, res.UnrealizedValid)
	assert.False(t, res.ROIValid)
	assert.Zero(t, res.ROIPercent)
}

func TestAggregateTotals(t *testing.T) {
	now := time.Now()
	trades := []*domain.TradeRecord{
		{ID: "open1", Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 60000, Size: 0.1,
			Leverage: 10, Status: domain.StatusPlaced, CreatedAt: now},
		{ID: "dup", Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 60500, Size: 0.1,
			Leverage: 10, Status: domain.StatusPlaced, CreatedAt: now.Add(time.Second)},
		{ID: "closed1", Symbol: "ETHUSDT", Side: domain.SideShort, EntryPrice: 3000, Size: 1,
			Leverage: 5, Status: domain.StatusClosed, RealizedPnL: float64Ptr(-50)},
		{ID: "nodata", Symbol: "SOLUSDT", Side: domain.SideLong, EntryPrice: 150, Size: 2,
			Status: domain.StatusPlaced, CreatedAt: now},
	}
	snaps := map[string]*domain.PositionSnapshot{
		"BTCUSDT": {Symbol: "BTCUSDT", Found: true, Side: domain.SideLong, MarkPrice: 61000, Stale: true},
		// SOLUSDT has no snapshot and no fallback: unavailable, excluded.
	}
	suppressed := map[string]bool{"dup": true}

	totals := usecase.AggregateTotals(trades, suppressed, snaps)
	assert.InDelta(t, 100.0, totals.Unrealized, 1e-9) // open1 only
	assert.InDelta(t, -50.0, totals.Realized, 1e-9)
	assert.True(t, totals.ROIValid)
}

func TestAggregateTotals_Empty(t *testing.T) {
	totals := usecase.AggregateTotals(nil, nil, nil)
	assert.Zero(t, totals.Unrealized)
	assert.Zero(t, totals.Realized)
	assert.False(t, totals.ROIValid)
}
