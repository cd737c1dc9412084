package window

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadRows loads rows from CSV with a header naming ticker, date, close and
// volume columns. Header matching is case-insensitive; "symbol" is accepted
// for ticker.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "symbol" {
			name = "ticker"
		}
		idx[name] = i
	}
	for _, col := range []string{"ticker", "date", "close", "volume"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv missing column %q", col)
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		date, err := ParseDate(rec[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		closePx, err := strconv.ParseFloat(strings.TrimSpace(rec[idx["close"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad close: %w", line, err)
		}
		volume, err := strconv.ParseFloat(strings.TrimSpace(rec[idx["volume"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad volume: %w", line, err)
		}
		rows = append(rows, Row{
			Ticker: strings.TrimSpace(rec[idx["ticker"]]),
			Date:   date,
			Close:  closePx,
			Volume: volume,
		})
	}
	return rows, nil
}
