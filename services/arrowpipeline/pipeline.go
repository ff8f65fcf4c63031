// Package arrowpipeline serializes snapshot series to Arrow IPC for
// downstream analysis tooling.
package arrowpipeline

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"perp-backtest/services/engine"
)

// Pipeline converts run output to Arrow record batches.
type Pipeline struct {
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

// SnapshotsToArrow serializes one run's snapshot series to Arrow IPC
// bytes. Optional columns (stop/take/exit price) carry Arrow nulls
// where the snapshot has no value.
func (p *Pipeline) SnapshotsToArrow(snaps []engine.Snapshot) ([]byte, error) {
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshots to convert")
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "cash", Type: arrow.PrimitiveTypes.Float64},
		{Name: "position", Type: arrow.PrimitiveTypes.Float64},
		{Name: "avg_entry_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "realized_pnl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "unrealized_pnl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
		{Name: "margin_used", Type: arrow.PrimitiveTypes.Float64},
		{Name: "free_margin", Type: arrow.PrimitiveTypes.Float64},
		{Name: "stop_price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "take_price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	}, nil)

	tsBuilder := array.NewInt64Builder(p.memoryPool)
	defer tsBuilder.Release()
	floatBuilders := make([]*array.Float64Builder, 9)
	for i := range floatBuilders {
		floatBuilders[i] = array.NewFloat64Builder(p.memoryPool)
		defer floatBuilders[i].Release()
	}
	stopBuilder := array.NewFloat64Builder(p.memoryPool)
	defer stopBuilder.Release()
	takeBuilder := array.NewFloat64Builder(p.memoryPool)
	defer takeBuilder.Release()
	exitBuilder := array.NewFloat64Builder(p.memoryPool)
	defer exitBuilder.Release()
	reasonBuilder := array.NewStringBuilder(p.memoryPool)
	defer reasonBuilder.Release()

	for _, s := range snaps {
		tsBuilder.Append(s.Timestamp)
		values := [9]float64{
			s.Close, s.Cash, s.Position, s.AvgEntryPrice, s.RealizedPnl,
			s.UnrealizedPnl, s.Equity, s.MarginUsed, s.FreeMargin,
		}
		for i, v := range values {
			floatBuilders[i].Append(v)
		}
		appendOptional(stopBuilder, s.StopPrice.Float64, s.StopPrice.Valid)
		appendOptional(takeBuilder, s.TakePrice.Float64, s.TakePrice.Valid)
		appendOptional(exitBuilder, s.ExitPrice.Float64, s.ExitPrice.Valid)
		reasonBuilder.Append(s.ExitReason.String())
	}

	cols := make([]arrow.Array, 0, 14)
	cols = append(cols, tsBuilder.NewInt64Array())
	for _, b := range floatBuilders {
		cols = append(cols, b.NewFloat64Array())
	}
	cols = append(cols,
		stopBuilder.NewFloat64Array(),
		takeBuilder.NewFloat64Array(),
		exitBuilder.NewFloat64Array(),
		reasonBuilder.NewStringArray(),
	)
	for _, c := range cols {
		defer c.Release()
	}

	record := array.NewRecord(schema, cols, int64(len(snaps)))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow writer: %w", err)
	}

	p.logger.Debug("converted snapshots to Arrow IPC",
		zap.Int("rows", len(snaps)),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

func appendOptional(b *array.Float64Builder, v float64, valid bool) {
	if valid {
		b.Append(v)
		return
	}
	b.AppendNull()
}
