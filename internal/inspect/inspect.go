// Package inspect classifies a fetched kline payload against the lattice
// cell it was requested for.
package inspect

import (
	"errors"
	"fmt"
	"sort"

	"qlir/internal/model"
)

// Mode records how deep the inspection went.
type Mode string

const (
	// ModeQuick means the payload matched the expected count; only O(1)
	// receipt facts were taken.
	ModeQuick Mode = "QUICK"
	// ModeFull means the O(n) integrity analysis ran.
	ModeFull Mode = "FULL"
)

// ErrInvariantViolation means the payload shape contradicts the lattice:
// short, but with no internal gaps and no trailing deficit. A bug, not a
// data condition; callers log and exit.
var ErrInvariantViolation = errors.New("inspect: response shape contradicts lattice")

// Integrity holds the O(n) facts computed in full mode.
type Integrity struct {
	FirstOpen   int64 `json:"first_open"`
	LastOpen    int64 `json:"last_open"`
	UniqueOpens int   `json:"unique_opens"`
	MinDelta    int64 `json:"min_delta"`
	MaxDelta    int64 `json:"max_delta"`
	NGaps       int   `json:"n_gaps"`
	MaxGap      int64 `json:"max_gap"`
}

// Result is the verdict for one fetched slice.
type Result struct {
	NItems             int           `json:"n_items"`
	ReceivedFirstOpen  int64         `json:"received_first_open,omitempty"`
	ReceivedLastOpen   int64         `json:"received_last_open,omitempty"`
	RequestedFirstOpen int64         `json:"requested_first_open"`
	RequestedLastOpen  int64         `json:"requested_last_open_implicit"`
	Verdict            model.Verdict `json:"verdict"`
	Mode               Mode          `json:"inspection_mode"`
	Integrity          *Integrity    `json:"integrity,omitempty"`
}

// Inspect classifies the received open times against the requested window.
//
// Fast path: the count matches the expected lattice population exactly —
// COMPLETE/NONE without touching the data again. Slow path: sort the opens
// and look at consecutive deltas. Internal gaps mean upstream genuinely has
// holes (terminal sparsity); a pure trailing deficit resolves with time and
// is PARTIAL, split on whether the wall clock has already passed the last
// expected open.
func Inspect(opens []int64, requestedFirstOpen, requestedLastOpenImplicit, intervalMS, nowMS int64) (Result, error) {
	res := Result{
		NItems:             len(opens),
		RequestedFirstOpen: requestedFirstOpen,
		RequestedLastOpen:  requestedLastOpenImplicit,
	}
	if len(opens) > 0 {
		res.ReceivedFirstOpen = opens[0]
		res.ReceivedLastOpen = opens[len(opens)-1]
	}

	expectedN := (requestedLastOpenImplicit-requestedFirstOpen)/intervalMS + 1
	if int64(len(opens)) == expectedN {
		res.Verdict = model.Complete(model.ReasonNone)
		res.Mode = ModeQuick
		return res, nil
	}

	res.Mode = ModeFull
	integ := analyze(opens, intervalMS)
	res.Integrity = &integ

	switch {
	case len(opens) == 0:
		// nothing exists here; terminal
		res.Verdict = model.Complete(model.ReasonHistoricalSparsity)
	case integ.NGaps > 0:
		// internal structural gaps: upstream is genuinely missing bars
		res.Verdict = model.Complete(model.ReasonHistoricalSparsity)
	case integ.LastOpen < requestedLastOpenImplicit:
		switch {
		case nowMS < requestedLastOpenImplicit:
			res.Verdict = model.Partial(model.ReasonStillForming)
		case nowMS < requestedLastOpenImplicit+intervalMS:
			// last expected candle has opened but not yet closed; upstream
			// may still publish it
			res.Verdict = model.Partial(model.ReasonAwaitingUpstream)
		default:
			// window is strictly historical and the contiguous run ends
			// early: upstream truly has no more data here. Terminal.
			res.Verdict = model.Complete(model.ReasonHistoricalSparsity)
		}
	default:
		return res, fmt.Errorf("%w: n=%d expected=%d last=%d requested_last=%d",
			ErrInvariantViolation, len(opens), expectedN, integ.LastOpen, requestedLastOpenImplicit)
	}
	return res, nil
}

func analyze(opens []int64, intervalMS int64) Integrity {
	if len(opens) == 0 {
		return Integrity{}
	}
	sorted := make([]int64, len(opens))
	copy(sorted, opens)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	integ := Integrity{
		FirstOpen:   sorted[0],
		LastOpen:    sorted[len(sorted)-1],
		UniqueOpens: 1,
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			integ.UniqueOpens++
		}
		d := sorted[i] - sorted[i-1]
		if integ.MinDelta == 0 || d < integ.MinDelta {
			integ.MinDelta = d
		}
		if d > integ.MaxDelta {
			integ.MaxDelta = d
		}
		if d != intervalMS {
			integ.NGaps++
			if d > integ.MaxGap {
				integ.MaxGap = d
			}
		}
	}
	return integ
}
