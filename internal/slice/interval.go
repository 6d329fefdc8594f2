package slice

import "fmt"

// intervalMillis maps the supported interval alphabet to widths in
// milliseconds. Calendar-variable intervals (months) have no fixed width and
// cannot sit on the lattice, so they are not in the table.
var intervalMillis = map[string]int64{
	"1s":  1_000,
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
}

// IntervalMillis returns the width of one candle at the given interval.
func IntervalMillis(interval string) (int64, error) {
	ms, ok := intervalMillis[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return ms, nil
}
