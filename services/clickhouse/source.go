// Package clickhouse reads candle history out of a ClickHouse OHLCV
// table over the native protocol and hands it to the signal pipeline.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"perp-backtest/services/signal"
)

type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Source is a candle feed backed by a ClickHouse connection.
type Source struct {
	conn driver.Conn
	cfg  Config
}

func NewSource(cfg Config) (*Source, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	return &Source{conn: conn, cfg: cfg}, nil
}

func (s *Source) Close() error {
	return s.conn.Close()
}

// Candles loads the [fromMs, toMs) range for a symbol/interval in
// chronological order. Prices are stored as strings in the candle
// table; they are decoded through decimals to avoid locale or
// formatting surprises before the float conversion.
func (s *Source) Candles(ctx context.Context, symbol, interval string, fromMs, toMs uint64) ([]signal.Candle, error) {
	query := fmt.Sprintf(`
		SELECT
			open_time_ms,
			toString(open),
			toString(high),
			toString(low),
			toString(close),
			toString(volume)
		FROM %s.%s
		WHERE symbol = ?
		  AND interval = ?
		  AND open_time_ms >= ?
		  AND open_time_ms < ?
		ORDER BY open_time_ms
	`, s.cfg.Database, s.cfg.Table)

	rows, err := s.conn.Query(ctx, query, symbol, interval, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []signal.Candle
	for rows.Next() {
		var (
			openTimeMs                    uint64
			open, high, low, closePx, vol string
		)
		if err := rows.Scan(&openTimeMs, &open, &high, &low, &closePx, &vol); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c, err := parseCandle(openTimeMs, open, high, low, closePx, vol)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	return candles, nil
}

func parseCandle(openTimeMs uint64, open, high, low, closePx, vol string) (signal.Candle, error) {
	fields := [5]string{open, high, low, closePx, vol}
	var parsed [5]float64
	for i, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return signal.Candle{}, fmt.Errorf("parse candle field %q at %d: %w", raw, openTimeMs, err)
		}
		parsed[i] = d.InexactFloat64()
	}
	return signal.Candle{
		Timestamp: int64(openTimeMs),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}
