package signal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LoadCSV reads candles from a timestamp,open,high,low,close,volume
// CSV. Timestamps are Unix milliseconds. A header row is skipped when
// present, quotes are stripped, and UTF-16 exports (BOM detected) are
// decoded transparently.
func LoadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCandles(f)
}

// ReadCandles parses candle rows from r, tolerating BOMs and UTF-16.
func ReadCandles(r io.Reader) ([]Candle, error) {
	br := bufio.NewReader(r)

	// Peek for a UTF-16 BOM; plain UTF-8 (with or without BOM) passes
	// through untouched.
	var reader io.Reader = br
	if head, err := br.Peek(2); err == nil && len(head) >= 2 &&
		((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		reader = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	var candles []Candle
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "\ufeff")
		line = strings.ReplaceAll(line, "\"", "")

		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			return nil, fmt.Errorf("csv line %d: expected at least 5 fields, got %d", lineNo, len(fields))
		}

		ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			// Header row.
			if lineNo == 1 {
				continue
			}
			return nil, fmt.Errorf("csv line %d: bad timestamp %q", lineNo, fields[0])
		}

		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			vals[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad field %q", lineNo, fields[i+1])
			}
		}
		var volume float64
		if len(fields) > 5 {
			volume, err = strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad volume %q", lineNo, fields[5])
			}
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    volume,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return candles, nil
}
