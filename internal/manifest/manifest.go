// Package manifest holds the durable index of slice state for one dataset:
// the manifest document, the append-only delta log that feeds it, snapshot
// IO, the raw response file format, and the long-running delta service.
//
// The raw response files are the ground truth; the manifest is a
// reconstructible cache over them.
package manifest

import (
	"time"

	"qlir/internal/model"
)

// MetaContract carries the schema-contract marker for one entry. When its
// Status is out of sync the worker may reclassify the slice NEEDS_REFRESH.
type MetaContract struct {
	Status string `json:"status"` // "ok" or "out_of_sync"
}

// MetaContractOutOfSync is the marker value that triggers NEEDS_REFRESH.
const MetaContractOutOfSync = "out_of_sync"

// Entry is the manifest record for one slice. Entries are created lazily as
// workers observe slices and are never deleted; status transitions stop once
// the verdict is terminal.
type Entry struct {
	SliceID           string        `json:"slice_id"`
	SliceStatus       model.Status  `json:"slice_status"`
	SliceStatusReason model.Reason  `json:"slice_status_reason"`
	FirstTS           *int64        `json:"first_ts,omitempty"`
	LastTS            *int64        `json:"last_ts,omitempty"`
	RequestedAt       string        `json:"requested_at,omitempty"`
	CompletedAt       string        `json:"completed_at,omitempty"`
	RelativePath      string        `json:"relative_path,omitempty"`
	NItems            int           `json:"n_items"`
	HTTPStatus        int           `json:"http_status,omitempty"`
	RequestedURL      string        `json:"requested_url,omitempty"`
	Error             string        `json:"error,omitempty"`
	MetaContract      *MetaContract `json:"__meta_contract,omitempty"`
	// Extra keeps forward-compatible fields round-tripping.
	Extra map[string]any `json:"extra,omitempty"`
}

// Terminal reports whether the entry will never be fetched again.
func (e *Entry) Terminal() bool {
	return model.Verdict{Status: e.SliceStatus, Reason: e.SliceStatusReason}.Terminal()
}

// Summary is the manifest's aggregate view, recomputed at snapshot time.
type Summary struct {
	Counts          map[model.Status]int `json:"counts"`
	TotalSlices     int                  `json:"total_slices"`
	LastEvaluatedAt string               `json:"last_evaluated_at,omitempty"`
}

// Manifest is one JSON document per (endpoint, symbol, interval, limit).
// Slices is keyed by the canonical composite key.
type Manifest struct {
	Venue    string            `json:"venue"`
	Endpoint string            `json:"endpoint"`
	Symbol   string            `json:"symbol"`
	Interval string            `json:"interval"`
	Limit    int               `json:"limit"`
	Summary  Summary           `json:"summary"`
	Slices   map[string]*Entry `json:"slices"`
}

// New builds an empty manifest for a dataset.
func New(venue, endpoint, symbol, interval string, limit int) *Manifest {
	return &Manifest{
		Venue:    venue,
		Endpoint: endpoint,
		Symbol:   symbol,
		Interval: interval,
		Limit:    limit,
		Slices:   make(map[string]*Entry),
	}
}

// Apply folds one delta into the manifest by overwriting the named slice
// entry. Merge is by key with last-writer-wins entry replacement, so
// applying the same delta twice is a no-op.
func (m *Manifest) Apply(d Delta) {
	if m.Slices == nil {
		m.Slices = make(map[string]*Entry)
	}
	e := d.Entry // copy
	m.Slices[d.SliceCompKey] = &e
}

// Entry returns the slice entry for a composite key, if present.
func (m *Manifest) Entry(compKey string) (*Entry, bool) {
	e, ok := m.Slices[compKey]
	return e, ok
}

// RecomputeSummary refreshes the aggregate counts and stamps
// last_evaluated_at.
func (m *Manifest) RecomputeSummary(now time.Time) {
	counts := make(map[model.Status]int)
	for _, e := range m.Slices {
		counts[e.SliceStatus]++
	}
	m.Summary = Summary{
		Counts:          counts,
		TotalSlices:     len(m.Slices),
		LastEvaluatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}
