// Package agg is the aggregation engine: it compacts batches of complete
// raw slices into columnar parquet parts, oldest first, without ever losing
// or double-counting a slice. The part file is renamed into place before the
// agg-manifest is written, so any crash leaves a consistent tree.
package agg

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/parquet-go/parquet-go"

	"qlir/internal/app"
	"qlir/internal/manifest"
	"qlir/internal/metrics"
	"qlir/internal/model"
	"qlir/internal/slice"
)

// Engine is the single aggregation process for one dataset.
type Engine struct {
	cfg   *app.Config
	paths app.DatasetPaths
	clk   clock.Clock
	log   *slog.Logger
	rng   *rand.Rand
}

// NewEngine builds an aggregation engine.
func NewEngine(cfg *app.Config, paths app.DatasetPaths, clk clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		paths: paths,
		clk:   clk,
		log:   log,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// candidate is one aggregation-eligible slice.
type candidate struct {
	sliceID string
	startMS int64
}

// Run loops batches until ctx is cancelled, sleeping 7–45s whenever no full
// batch is available.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.paths.EnsureAggLayout(); err != nil {
		return err
	}
	for {
		wrote, err := e.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !wrote {
			wait := 7*time.Second + time.Duration(e.rng.Int63n(int64(38*time.Second)))
			select {
			case <-ctx.Done():
				e.log.Info("aggregator exiting")
				return nil
			case <-e.clk.After(wait):
			}
			continue
		}
		select {
		case <-ctx.Done():
			e.log.Info("aggregator exiting")
			return nil
		default:
		}
	}
}

// RunOnce attempts one batch and reports whether a part was written.
func (e *Engine) RunOnce(ctx context.Context) (bool, error) {
	man, err := manifest.Load(e.paths.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Debug("raw manifest not present yet")
			return false, nil
		}
		return false, fmt.Errorf("load raw manifest: %w", err)
	}
	aggMan, err := LoadManifest(e.paths.AggManifestPath())
	if err != nil {
		return false, err
	}

	pending, err := e.pending(man, aggMan)
	if err != nil {
		return false, err
	}
	if len(pending) < e.cfg.BatchSlices {
		e.log.Debug("batch not full", "pending", len(pending), "need", e.cfg.BatchSlices)
		return false, nil
	}
	batch := pending[:e.cfg.BatchSlices]

	rows, included, failures := e.loadBatch(batch)
	if len(failures) > 0 {
		now := e.clk.Now().UTC().Format(time.RFC3339Nano)
		var merr *multierror.Error
		for id, ferr := range failures {
			aggMan.SliceFailures[id] = Failure{Error: ferr.Error(), FailedAt: now}
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", id, ferr))
		}
		e.log.Warn("batch had load failures", "failed", len(failures), "error", merr)
	}
	if len(included) == 0 {
		// nothing loaded; persist the recorded failures and retry later
		return false, aggMan.Write(e.paths.AggManifestPath())
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].OpenTime < rows[j].OpenTime })

	var minOpen, maxOpen int64
	if len(rows) > 0 {
		minOpen, maxOpen = rows[0].OpenTime, rows[len(rows)-1].OpenTime
	}

	partNum := len(aggMan.Parts) + 1
	filename := fmt.Sprintf("part-%06d.parquet", partNum)
	if err := e.writePart(filename, rows); err != nil {
		return false, err
	}

	aggMan.Parts = append(aggMan.Parts, Part{
		Filename:    filename,
		SliceIDs:    included,
		RowCount:    len(rows),
		MinOpenTime: minOpen,
		MaxOpenTime: maxOpen,
		CreatedAt:   e.clk.Now().UTC().Format(time.RFC3339Nano),
	})
	if err := aggMan.Write(e.paths.AggManifestPath()); err != nil {
		return false, err
	}

	metrics.PartsWritten.Inc()
	metrics.RowsAggregated.Add(float64(len(rows)))
	e.log.Info("part written",
		"part", filename, "slices", len(included), "rows", len(rows),
		"min_open", minOpen, "max_open", maxOpen)
	return true, nil
}

// pending lists terminal-complete slices not yet contained in any part,
// ascending by slice start.
func (e *Engine) pending(man *manifest.Manifest, aggMan *Manifest) ([]candidate, error) {
	done := aggMan.AllSliceIDs()
	var out []candidate
	for comp, entry := range man.Slices {
		if !entry.Terminal() {
			continue
		}
		if _, ok := done[entry.SliceID]; ok {
			continue
		}
		_, _, startMS, _, err := slice.ParseCompositeKey(comp)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{sliceID: entry.SliceID, startMS: startMS})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].startMS < out[j].startMS })
	return out, nil
}

// loadBatch reads and decodes each response in the batch. The raw file is
// read in full here rather than merely checked for existence, so a rename
// racing with a worker surfaces as a recorded failure, never a dropped
// slice.
func (e *Engine) loadBatch(batch []candidate) (rows []model.Candle, included []string, failures map[string]error) {
	failures = make(map[string]error)
	for _, c := range batch {
		rf, err := manifest.ReadResponse(e.paths.ResponsePath(c.sliceID))
		if err != nil {
			failures[c.sliceID] = err
			continue
		}
		candles, err := model.ParseKlines(rf.Data)
		if err != nil {
			failures[c.sliceID] = err
			continue
		}
		rows = append(rows, candles...)
		included = append(included, c.sliceID)
	}
	return rows, included, failures
}

// writePart writes rows to parts/<filename> via temp, fsync, rename.
func (e *Engine) writePart(filename string, rows []model.Candle) error {
	final := filepath.Join(e.paths.PartsDir(), filename)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create part temp: %w", err)
	}
	w := parquet.NewGenericWriter[model.Candle](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write part rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close part writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync part: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close part: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename part into place: %w", err)
	}
	return nil
}
