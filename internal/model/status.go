package model

import "fmt"

// Status is the manifest state of one slice.
type Status string

const (
	StatusMissing      Status = "MISSING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusComplete     Status = "COMPLETE"
	StatusPartial      Status = "PARTIAL"
	StatusFailed       Status = "FAILED"
	StatusNeedsRefresh Status = "NEEDS_REFRESH"
)

// Reason refines Status.
type Reason string

const (
	ReasonNone               Reason = "NONE"
	ReasonHistoricalSparsity Reason = "HISTORICAL_SPARSITY"
	ReasonStillForming       Reason = "STILL_FORMING"
	ReasonAwaitingUpstream   Reason = "AWAITING_UPSTREAM"
	ReasonHTTPError          Reason = "HTTP_ERROR"
	ReasonException          Reason = "EXCEPTION"
)

// Verdict pairs a Status with its Reason. Construct through the typed
// constructors so illegal pairs (e.g. COMPLETE/HTTP_ERROR) cannot be built.
type Verdict struct {
	Status Status `json:"slice_status"`
	Reason Reason `json:"slice_status_reason"`
}

// legal combinations per status
var legalReasons = map[Status][]Reason{
	StatusComplete: {ReasonNone, ReasonHistoricalSparsity},
	StatusPartial:  {ReasonStillForming, ReasonAwaitingUpstream},
	StatusFailed:   {ReasonHTTPError, ReasonException},
}

// Complete builds a terminal COMPLETE verdict. Panics on an illegal reason;
// callers pass compile-time constants.
func Complete(r Reason) Verdict { return mustVerdict(StatusComplete, r) }

// Partial builds a PARTIAL verdict (resolves with time).
func Partial(r Reason) Verdict { return mustVerdict(StatusPartial, r) }

// Failed builds a retry-eligible FAILED verdict.
func Failed(r Reason) Verdict { return mustVerdict(StatusFailed, r) }

func mustVerdict(s Status, r Reason) Verdict {
	for _, ok := range legalReasons[s] {
		if r == ok {
			return Verdict{Status: s, Reason: r}
		}
	}
	panic(fmt.Sprintf("model: illegal status/reason pair %s/%s", s, r))
}

// Valid reports whether the pair is one of the legal combinations.
func (v Verdict) Valid() bool {
	for _, ok := range legalReasons[v.Status] {
		if v.Reason == ok {
			return true
		}
	}
	return false
}

// Terminal reports whether a slice in this verdict is never fetched again.
func (v Verdict) Terminal() bool {
	return v.Status == StatusComplete &&
		(v.Reason == ReasonNone || v.Reason == ReasonHistoricalSparsity)
}
