package agg

import (
	"encoding/json"
	"fmt"
	"os"

	"qlir/internal/fsx"
)

// Part records one parquet file and exactly which slices it contains. The
// union of SliceIDs across parts is the authoritative already-aggregated
// set.
type Part struct {
	Filename    string   `json:"filename"`
	SliceIDs    []string `json:"slice_ids"`
	RowCount    int      `json:"row_count"`
	MinOpenTime int64    `json:"min_open_time"`
	MaxOpenTime int64    `json:"max_open_time"`
	CreatedAt   string   `json:"created_at"`
}

// Failure records a slice whose raw response could not be loaded during
// batching.
type Failure struct {
	Error    string `json:"error"`
	FailedAt string `json:"failed_at"`
}

// Manifest is the agg-side index, one per dataset. Parts are append-only.
type Manifest struct {
	Parts         []Part             `json:"parts"`
	SliceFailures map[string]Failure `json:"slice_failures"`
}

// LoadManifest reads the agg-manifest; a missing file is an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{SliceFailures: make(map[string]Failure)}, nil
		}
		return nil, fmt.Errorf("read agg manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse agg manifest %s: %w", path, err)
	}
	if m.SliceFailures == nil {
		m.SliceFailures = make(map[string]Failure)
	}
	return &m, nil
}

// Write atomically replaces the agg-manifest.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agg manifest: %w", err)
	}
	if err := fsx.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("write agg manifest: %w", err)
	}
	return nil
}

// AllSliceIDs returns the set of slices already contained in any part.
func (m *Manifest) AllSliceIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range m.Parts {
		for _, id := range p.SliceIDs {
			out[id] = struct{}{}
		}
	}
	return out
}
