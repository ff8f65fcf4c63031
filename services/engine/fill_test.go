package engine

import "testing"

func TestBasisPointSlippageDisadvantagesOrder(t *testing.T) {
	s := BasisPointSlippage{Bps: 10} // 0.1%

	buy := s.FillPrice(100, 1)
	if !almostEqual(buy, 100.1) {
		t.Fatalf("buy fill = %v, want 100.1", buy)
	}
	sell := s.FillPrice(100, -1)
	if !almostEqual(sell, 99.9) {
		t.Fatalf("sell fill = %v, want 99.9", sell)
	}
}

func TestBasisPointSlippageZero(t *testing.T) {
	s := BasisPointSlippage{}
	if got := s.FillPrice(123.45, -7); !almostEqual(got, 123.45) {
		t.Fatalf("zero-bps fill = %v, want 123.45", got)
	}
}

func TestFixedFeeModelRates(t *testing.T) {
	m := FixedFeeModel{Maker: 0.0002, Taker: 0.0004}

	if got := m.Commission(10000, false); !almostEqual(got, 4) {
		t.Fatalf("taker fee = %v, want 4", got)
	}
	if got := m.Commission(10000, true); !almostEqual(got, 2) {
		t.Fatalf("maker fee = %v, want 2", got)
	}
	// Fees are charged on absolute notional.
	if got := m.Commission(-10000, false); !almostEqual(got, 4) {
		t.Fatalf("fee on negative notional = %v, want 4", got)
	}
}
