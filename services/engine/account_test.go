package engine

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func almostEqual(a, b float64) bool { return math.Abs(a-b) <= eps }

func testAccount(t *testing.T, cash float64, cfg AccountConfig) *PerpAccount {
	t.Helper()
	a, err := NewPerpAccount(cash, cfg)
	if err != nil {
		t.Fatalf("NewPerpAccount: %v", err)
	}
	return a
}

func feeFreeConfig() AccountConfig {
	return AccountConfig{Leverage: 10, MaintMarginRate: 0.005}
}

func TestNewPerpAccountRejectsBadConfig(t *testing.T) {
	_, err := NewPerpAccount(1000, AccountConfig{Leverage: 0})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for zero leverage, got %v", err)
	}
	_, err = NewPerpAccount(1000, AccountConfig{Leverage: 10, TakerFeeRate: -0.1})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for negative fee, got %v", err)
	}
	_, err = NewPerpAccount(0, feeFreeConfig())
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for zero cash, got %v", err)
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())

	a.ApplyFill(100, 2, false)
	if !almostEqual(a.AvgEntryPrice, 100) || !almostEqual(a.Position, 2) {
		t.Fatalf("open: pos=%v avg=%v", a.Position, a.AvgEntryPrice)
	}

	a.ApplyFill(110, 2, false)
	if !almostEqual(a.AvgEntryPrice, 105) || !almostEqual(a.Position, 4) {
		t.Fatalf("add: pos=%v avg=%v", a.Position, a.AvgEntryPrice)
	}

	// Partial reduce keeps the average.
	a.ApplyFill(120, -1, false)
	if !almostEqual(a.AvgEntryPrice, 105) || !almostEqual(a.Position, 3) {
		t.Fatalf("reduce: pos=%v avg=%v", a.Position, a.AvgEntryPrice)
	}
	if !almostEqual(a.RealizedPnl, 15) {
		t.Fatalf("reduce realized = %v, want 15", a.RealizedPnl)
	}

	// Full close resets the average.
	a.ApplyFill(120, -3, false)
	if a.Position != 0 || a.AvgEntryPrice != 0 {
		t.Fatalf("close: pos=%v avg=%v", a.Position, a.AvgEntryPrice)
	}
	if !almostEqual(a.RealizedPnl, 60) {
		t.Fatalf("total realized = %v, want 60", a.RealizedPnl)
	}
}

func TestApplyFillReversal(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())

	a.ApplyFill(100, 10, false)
	a.ApplyFill(110, -15, false)

	if !almostEqual(a.RealizedPnl, 100) {
		t.Fatalf("realized = %v, want 100", a.RealizedPnl)
	}
	if !almostEqual(a.Position, -5) {
		t.Fatalf("position = %v, want -5", a.Position)
	}
	if !almostEqual(a.AvgEntryPrice, 110) {
		t.Fatalf("avg entry = %v, want 110", a.AvgEntryPrice)
	}
	if a.Side() != SideShort {
		t.Fatalf("side = %v, want SHORT", a.Side())
	}
}

func TestApplyFillShortSide(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())

	a.ApplyFill(200, -5, false)
	if a.Side() != SideShort || !almostEqual(a.AvgEntryPrice, 200) {
		t.Fatalf("short open: side=%v avg=%v", a.Side(), a.AvgEntryPrice)
	}
	if !almostEqual(a.UnrealizedPnl(190), 50) {
		t.Fatalf("short unrealized at 190 = %v, want 50", a.UnrealizedPnl(190))
	}

	// Buy back at a loss.
	a.ApplyFill(210, 5, false)
	if !almostEqual(a.RealizedPnl, -50) {
		t.Fatalf("short realized = %v, want -50", a.RealizedPnl)
	}
	if a.Position != 0 || a.AvgEntryPrice != 0 {
		t.Fatalf("short close: pos=%v avg=%v", a.Position, a.AvgEntryPrice)
	}
}

func TestFillConservation(t *testing.T) {
	cfg := AccountConfig{Leverage: 10, TakerFeeRate: 0.0004, MakerFeeRate: 0.0002, MaintMarginRate: 0.005}
	a := testAccount(t, 10000, cfg)

	// At the instant of a fill, equity moves only by the fee.
	before := a.Equity(100)
	fee := a.Commission(100*3, false)
	a.ApplyFill(100, 3, false)
	after := a.Equity(100)
	if !almostEqual(before-after, fee) {
		t.Fatalf("equity delta = %v, want fee %v", before-after, fee)
	}

	// Same through a realizing fill: marking both sides at the fill price.
	before = a.Equity(105)
	fee = a.Commission(105*3, false)
	a.ApplyFill(105, -3, false)
	after = a.Equity(105)
	if !almostEqual(before-after, fee) {
		t.Fatalf("closing equity delta = %v, want fee %v", before-after, fee)
	}
}

func TestMarginQueries(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())
	a.ApplyFill(100, 5, false)

	if got := a.MarginUsed(100); !almostEqual(got, 50) {
		t.Fatalf("margin used = %v, want 50", got)
	}
	if got := a.FreeMargin(100); !almostEqual(got, 9950) {
		t.Fatalf("free margin = %v, want 9950", got)
	}
	if a.IsLiquidationRisk(100) {
		t.Fatal("healthy account flagged for liquidation")
	}
}

func TestLiquidationRiskThreshold(t *testing.T) {
	a := testAccount(t, 1000, feeFreeConfig())
	a.ApplyFill(100, 100, false) // 10x notional

	// Price collapse: equity 1000 + (p-100)*100 vs maint 100*p*0.005.
	if a.IsLiquidationRisk(95) {
		t.Fatal("liquidation flagged too early")
	}
	if !a.IsLiquidationRisk(90) {
		t.Fatal("liquidation not flagged at exhausted equity")
	}
}

func TestTargetDeltaClampsToMargin(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())

	// Max abs position at 100 with 10x: 10000*10/100 = 1000.
	delta := a.TargetDelta(5000, 100)
	if !almostEqual(delta, 1000) {
		t.Fatalf("clamped delta = %v, want 1000", delta)
	}
	a.ApplyFill(100, delta, false)
	if used := a.MarginUsed(100); used > a.Equity(100)+eps {
		t.Fatalf("margin used %v exceeds equity %v", used, a.Equity(100))
	}

	delta = a.TargetDelta(-5000, 100)
	if !almostEqual(delta, -2000) {
		t.Fatalf("reversal clamped delta = %v, want -2000", delta)
	}
}

func TestTargetDeltaExhaustedMarginClampsFlat(t *testing.T) {
	a := testAccount(t, 1000, feeFreeConfig())
	a.ApplyFill(100, 100, false)

	// At 85 the position has wiped out equity. The target collapses to
	// flat, so the delta is exactly the closing quantity.
	if eq := a.Equity(85); eq > 0 {
		t.Fatalf("expected negative equity, got %v", eq)
	}
	delta := a.TargetDelta(500, 85)
	if !almostEqual(delta, -100) {
		t.Fatalf("exhausted-margin delta = %v, want -100", delta)
	}
}

func TestZeroQuantityFillIsNoop(t *testing.T) {
	a := testAccount(t, 10000, feeFreeConfig())
	a.ApplyFill(100, 0, false)
	if a.Position != 0 || a.Cash != 10000 {
		t.Fatalf("zero-qty fill mutated account: pos=%v cash=%v", a.Position, a.Cash)
	}
}
