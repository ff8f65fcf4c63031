package arrowpipeline

import (
	"bytes"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/volatiletech/null"

	"perp-backtest/services/engine"
)

func TestSnapshotsToArrowRoundTrip(t *testing.T) {
	snaps := []engine.Snapshot{
		{
			Timestamp: 60000, Close: 100, Cash: 10000, Equity: 10000,
			StopPrice: null.Float64{Float64: 96, Valid: true},
			TakePrice: null.Float64{Float64: 106, Valid: true},
		},
		{
			Timestamp: 120000, Close: 96, Cash: 9995.92, Equity: 9995.92,
			ExitReason: engine.ExitStop,
			ExitPrice:  null.Float64{Float64: 96, Valid: true},
		},
	}

	p := NewPipeline(nil)
	data, err := p.SnapshotsToArrow(snaps)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty IPC payload")
	}

	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen IPC stream: %v", err)
	}
	defer reader.Release()

	if !reader.Next() {
		t.Fatal("no record batch in stream")
	}
	rec := reader.Record()
	if rec.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", rec.NumRows())
	}
	if rec.NumCols() != 14 {
		t.Fatalf("cols = %d, want 14", rec.NumCols())
	}

	// Stop price present on row 0, null on row 1.
	stopCol := rec.Column(10)
	if stopCol.IsNull(0) || !stopCol.IsNull(1) {
		t.Fatalf("stop price validity: %v/%v", stopCol.IsNull(0), stopCol.IsNull(1))
	}
}

func TestSnapshotsToArrowEmpty(t *testing.T) {
	p := NewPipeline(nil)
	if _, err := p.SnapshotsToArrow(nil); err == nil {
		t.Fatal("expected error for empty snapshots")
	}
}
