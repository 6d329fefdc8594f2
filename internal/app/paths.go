package app

import (
	"fmt"
	"path/filepath"

	"qlir/internal/fsx"
)

// DatasetPaths resolves the on-disk layout for one
// (venue, endpoint, symbol, interval, limit) dataset:
//
//	<root>/<venue>/<endpoint>/raw/<symbol>/<interval>/limit=<L>/...
//	<root>/<venue>/<endpoint>/agg/<symbol>/<interval>/limit=<L>/...
type DatasetPaths struct {
	Root     string
	Venue    string
	Endpoint string
	Symbol   string
	Interval string
	Limit    int
}

// NewDatasetPaths derives the layout from config.
func NewDatasetPaths(cfg *Config) DatasetPaths {
	return DatasetPaths{
		Root:     cfg.DataRoot,
		Venue:    cfg.Venue,
		Endpoint: cfg.Endpoint,
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Limit:    cfg.Limit,
	}
}

func (p DatasetPaths) leaf() string {
	return filepath.Join(p.Symbol, p.Interval, fmt.Sprintf("limit=%d", p.Limit))
}

// RawDir is the dataset's raw side.
func (p DatasetPaths) RawDir() string {
	return filepath.Join(p.Root, p.Venue, p.Endpoint, "raw", p.leaf())
}

// AggDir is the dataset's aggregated side.
func (p DatasetPaths) AggDir() string {
	return filepath.Join(p.Root, p.Venue, p.Endpoint, "agg", p.leaf())
}

func (p DatasetPaths) ResponsesDir() string { return filepath.Join(p.RawDir(), "responses") }
func (p DatasetPaths) ClaimsDir() string    { return filepath.Join(p.RawDir(), "claims") }
func (p DatasetPaths) LogsDir() string      { return filepath.Join(p.RawDir(), "logs") }
func (p DatasetPaths) ManifestPath() string { return filepath.Join(p.RawDir(), "manifest.json") }
func (p DatasetPaths) DeltaPath() string    { return filepath.Join(p.RawDir(), "manifest.delta") }

// SnapshotDropPath is where the offline rebuild tool deposits a full
// manifest for the delta service to consume.
func (p DatasetPaths) SnapshotDropPath() string {
	return filepath.Join(p.RawDir(), "manifest_snapshot", "manifest.snapshot.json")
}

func (p DatasetPaths) ResponsePath(sliceID string) string {
	return filepath.Join(p.ResponsesDir(), sliceID+".json")
}

// ResponseRelPath is the manifest-recorded path, relative to the raw dir.
func (p DatasetPaths) ResponseRelPath(sliceID string) string {
	return filepath.Join("responses", sliceID+".json")
}

func (p DatasetPaths) AggManifestPath() string { return filepath.Join(p.AggDir(), "manifest.json") }
func (p DatasetPaths) PartsDir() string        { return filepath.Join(p.AggDir(), "parts") }

// EnsureRawLayout creates the raw-side directory tree.
func (p DatasetPaths) EnsureRawLayout() error {
	for _, dir := range []string{
		p.ResponsesDir(), p.ClaimsDir(), p.LogsDir(),
		filepath.Dir(p.SnapshotDropPath()),
	} {
		if err := fsx.EnsureDir(dir); err != nil {
			return fmt.Errorf("ensure raw layout: %w", err)
		}
	}
	return nil
}

// EnsureAggLayout creates the agg-side directory tree.
func (p DatasetPaths) EnsureAggLayout() error {
	if err := fsx.EnsureDir(p.PartsDir()); err != nil {
		return fmt.Errorf("ensure agg layout: %w", err)
	}
	return nil
}
