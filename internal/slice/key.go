// Package slice models the time lattice: the partition of a symbol's history
// into fixed-width windows of limit candles, and the canonical identity of
// each window.
package slice

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrInvalidRange is returned when a requested range has start > end.
	ErrInvalidRange = errors.New("slice: start_ms after end_ms")
	// ErrMisaligned is returned when a slice start is not on the interval grid.
	ErrMisaligned = errors.New("slice: start_ms not aligned to interval")
	// ErrClockRegression is returned when wall-clock now precedes a known
	// lattice point. Fatal for callers: the lattice alignment is broken.
	ErrClockRegression = errors.New("slice: clock regression")
)

// Key is the canonical identity of one lattice cell.
type Key struct {
	Symbol     string
	Interval   string
	StartMS    int64 // inclusive open-time of the first candle
	EndMS      int64 // inclusive open-time of the last candle that would fall in the slice
	Limit      int   // candles per slice
	intervalMS int64
}

// NewKey validates and builds a Key. EndMS is derived:
// end_ms = start_ms + interval_ms*limit - 1.
func NewKey(symbol, interval string, startMS int64, limit int) (Key, error) {
	ms, err := IntervalMillis(interval)
	if err != nil {
		return Key{}, err
	}
	if limit <= 0 {
		return Key{}, fmt.Errorf("slice: limit must be positive, got %d", limit)
	}
	if startMS%ms != 0 {
		return Key{}, fmt.Errorf("%w: start=%d interval=%s", ErrMisaligned, startMS, interval)
	}
	return Key{
		Symbol:     symbol,
		Interval:   interval,
		StartMS:    startMS,
		EndMS:      startMS + ms*int64(limit) - 1,
		Limit:      limit,
		intervalMS: ms,
	}, nil
}

// IntervalMS returns the candle width of the key's interval.
func (k Key) IntervalMS() int64 { return k.intervalMS }

// SpanMS returns the full width of the lattice cell.
func (k Key) SpanMS() int64 { return k.intervalMS * int64(k.Limit) }

// CompositeKey returns "<symbol>:<interval>:<start_ms>:<limit>". end_ms is
// excluded on purpose: repeated fetches of the still-forming current slice
// must map to the same identity.
func (k Key) CompositeKey() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.Symbol, k.Interval, k.StartMS, k.Limit)
}

// ID returns the stable slice_id: hex of the 16-byte BLAKE2b digest of the
// composite key. Used as the filename stem for responses and claims.
func (k Key) ID() string {
	return HashCompositeKey(k.CompositeKey())
}

// HashCompositeKey hashes an already-formed composite key string with
// BLAKE2b-128.
func HashCompositeKey(comp string) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err) // unreachable: size 16, no key
	}
	h.Write([]byte(comp))
	return hex.EncodeToString(h.Sum(nil))
}

// ParseCompositeKey splits "<symbol>:<interval>:<start_ms>:<limit>" back
// into its parts.
func ParseCompositeKey(comp string) (symbol, interval string, startMS int64, limit int, err error) {
	parts := strings.Split(comp, ":")
	if len(parts) != 4 {
		return "", "", 0, 0, fmt.Errorf("malformed composite key %q", comp)
	}
	startMS, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("malformed composite key %q: %w", comp, err)
	}
	limit, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("malformed composite key %q: %w", comp, err)
	}
	return parts[0], parts[1], startMS, limit, nil
}

// CurrentKey returns the key of the lattice cell containing nowMS, derived
// from any known key on the same lattice:
// start + floor((now-start)/span)*span.
func CurrentKey(prior Key, nowMS int64) (Key, error) {
	if nowMS < prior.StartMS {
		return Key{}, fmt.Errorf("%w: now=%d before lattice origin %d", ErrClockRegression, nowMS, prior.StartMS)
	}
	span := prior.SpanMS()
	start := prior.StartMS + (nowMS-prior.StartMS)/span*span
	return NewKey(prior.Symbol, prior.Interval, start, prior.Limit)
}

// LastOpenImplicit returns the interval-floored last open time of a window
// [startMS, endMS]: the open of the last candle that fits entirely on the
// grid inside the window.
func LastOpenImplicit(startMS, endMS, intervalMS int64) int64 {
	return startMS + (endMS-startMS)/intervalMS*intervalMS
}
