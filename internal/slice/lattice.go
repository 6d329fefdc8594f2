package slice

// Window is one lattice cell's time bounds, both ends inclusive.
type Window struct {
	StartMS int64
	EndMS   int64
}

// Windows partitions [startMS, endMS] into windows of exactly
// interval_ms*limit milliseconds. The last window is truncated to endMS when
// the range does not divide evenly; its EndMS may therefore be off-lattice,
// and inspection will see the corresponding slice as short. All other
// windows are full-width.
func Windows(startMS, endMS, intervalMS int64, limit int) ([]Window, error) {
	if startMS > endMS {
		return nil, ErrInvalidRange
	}
	span := intervalMS * int64(limit)
	n := (endMS-startMS)/span + 1
	out := make([]Window, 0, n)
	for cur := startMS; cur <= endMS; cur += span {
		end := cur + span - 1
		if end > endMS {
			end = endMS
		}
		out = append(out, Window{StartMS: cur, EndMS: end})
	}
	return out, nil
}

// Keys enumerates the expected slice keys covering [startMS, endMS].
func Keys(symbol, interval string, startMS, endMS int64, limit int) ([]Key, error) {
	ms, err := IntervalMillis(interval)
	if err != nil {
		return nil, err
	}
	ws, err := Windows(startMS, endMS, ms, limit)
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(ws))
	for _, w := range ws {
		k, err := NewKey(symbol, interval, w.StartMS, limit)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
