package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Candle is one OHLCV kline identified by its open time.
// Shared by the fetch worker, the aggregator and serialization (json, parquet).
type Candle struct {
	OpenTime  int64   `json:"open_time" parquet:"open_time"` // ms since epoch
	Open      float64 `json:"open" parquet:"open"`
	High      float64 `json:"high" parquet:"high"`
	Low       float64 `json:"low" parquet:"low"`
	Close     float64 `json:"close" parquet:"close"`
	Volume    float64 `json:"volume" parquet:"volume"`
	CloseTime int64   `json:"close_time" parquet:"close_time"` // ms since epoch
}

// ParseKlineRow decodes one raw kline array
// [open_time, "open", "high", "low", "close", "volume", close_time, ...].
// Trailing fields beyond close_time are ignored. Prices and volume arrive as
// JSON strings on the wire.
func ParseKlineRow(raw json.RawMessage) (Candle, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Candle{}, fmt.Errorf("kline row is not an array: %w", err)
	}
	if len(fields) < 7 {
		return Candle{}, fmt.Errorf("kline row has %d fields, want at least 7", len(fields))
	}
	var c Candle
	if err := json.Unmarshal(fields[0], &c.OpenTime); err != nil {
		return Candle{}, fmt.Errorf("open_time: %w", err)
	}
	vals := [5]*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i, dst := range vals {
		var s string
		if err := json.Unmarshal(fields[i+1], &s); err != nil {
			return Candle{}, fmt.Errorf("%s: %w", names[i], err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("%s: %w", names[i], err)
		}
		*dst = v
	}
	if err := json.Unmarshal(fields[6], &c.CloseTime); err != nil {
		return Candle{}, fmt.Errorf("close_time: %w", err)
	}
	return c, nil
}

// ParseKlines decodes every row of a raw kline payload.
func ParseKlines(rows []json.RawMessage) ([]Candle, error) {
	out := make([]Candle, 0, len(rows))
	for i, r := range rows {
		c, err := ParseKlineRow(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// OpenTimes extracts just the open_time column of a raw kline payload.
// Cheaper than ParseKlines when only receipt/inspection facts are needed.
func OpenTimes(rows []json.RawMessage) ([]int64, error) {
	out := make([]int64, 0, len(rows))
	for i, r := range rows {
		var fields []json.RawMessage
		if err := json.Unmarshal(r, &fields); err != nil {
			return nil, fmt.Errorf("row %d is not an array: %w", i, err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("row %d is empty", i)
		}
		var t int64
		if err := json.Unmarshal(fields[0], &t); err != nil {
			return nil, fmt.Errorf("row %d open_time: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
