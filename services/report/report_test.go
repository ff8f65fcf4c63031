package report

import (
	"testing"

	"github.com/shopspring/decimal"

	"perp-backtest/services/engine"
)

func snapsWithEquity(equities ...float64) []engine.Snapshot {
	snaps := make([]engine.Snapshot, len(equities))
	for i, eq := range equities {
		snaps[i] = engine.Snapshot{Timestamp: int64(i+1) * 60000, Equity: eq}
	}
	return snaps
}

func TestReturnsFirstBarZero(t *testing.T) {
	rets := Returns(snapsWithEquity(10000, 10100, 10100, 9999))
	if len(rets) != 4 {
		t.Fatalf("len = %d, want 4", len(rets))
	}
	if !rets[0].IsZero() {
		t.Fatalf("first return = %s, want 0", rets[0])
	}
	if !rets[1].Equal(decimal.NewFromFloat(0.01)) {
		t.Fatalf("second return = %s, want 0.01", rets[1])
	}
	if !rets[2].IsZero() {
		t.Fatalf("flat return = %s, want 0", rets[2])
	}
	if rets[3].Sign() >= 0 {
		t.Fatalf("drawdown return = %s, want negative", rets[3])
	}
}

func TestCumulativeReturnsCompound(t *testing.T) {
	rets := []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromFloat(0.10),
		decimal.NewFromFloat(0.10),
	}
	cum := CumulativeReturns(rets)
	if !cum[0].IsZero() {
		t.Fatalf("cum[0] = %s, want 0", cum[0])
	}
	// (1.1)^2 - 1 = 0.21
	if !cum[2].Equal(decimal.NewFromFloat(0.21)) {
		t.Fatalf("cum[2] = %s, want 0.21", cum[2])
	}
}

func TestSummarize(t *testing.T) {
	snaps := snapsWithEquity(10000, 11000, 9900, 10450)
	snaps[1].ExitReason = engine.ExitTake
	snaps[2].ExitReason = engine.ExitStop
	snaps[3].RealizedPnl = 450

	res := &engine.RunResult{
		RunID:     "test",
		Snapshots: snaps,
		Fills: []engine.Fill{
			{Fee: 1.5},
			{Fee: 2.5},
		},
	}
	s := Summarize(res)

	if s.Bars != 4 || s.Fills != 2 {
		t.Fatalf("bars=%d fills=%d", s.Bars, s.Fills)
	}
	if !s.TotalReturn.Equal(decimal.NewFromFloat(0.045)) {
		t.Fatalf("total return = %s, want 0.045", s.TotalReturn)
	}
	// Deepest drawdown: 9900 from the 11000 peak = -0.1.
	if !s.MaxDrawdown.Equal(decimal.NewFromFloat(-0.1)) {
		t.Fatalf("max drawdown = %s, want -0.1", s.MaxDrawdown)
	}
	if s.TakeExits != 1 || s.StopExits != 1 || s.Liquidations != 0 {
		t.Fatalf("exits: take=%d stop=%d liq=%d", s.TakeExits, s.StopExits, s.Liquidations)
	}
	if !s.FeesPaid.Equal(decimal.NewFromFloat(4)) {
		t.Fatalf("fees = %s, want 4", s.FeesPaid)
	}
	if !s.RealizedPnl.Equal(decimal.NewFromFloat(450)) {
		t.Fatalf("realized = %s, want 450", s.RealizedPnl)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Bars != 0 || !s.TotalReturn.IsZero() {
		t.Fatalf("empty summary = %+v", s)
	}
}
