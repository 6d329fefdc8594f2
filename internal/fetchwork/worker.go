// Package fetchwork runs the per-dataset fetch loop: enumerate the lattice,
// skip terminal slices, claim, fetch, inspect, persist the raw response and
// append a manifest delta. One outstanding request per dataset; concurrency
// across workers is arbitrated by the claim protocol.
package fetchwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"qlir/internal/app"
	"qlir/internal/claim"
	"qlir/internal/exchange"
	"qlir/internal/inspect"
	"qlir/internal/manifest"
	"qlir/internal/metrics"
	"qlir/internal/model"
	"qlir/internal/slice"
)

// Worker is the single fetch process for one dataset.
type Worker struct {
	cfg    *app.Config
	paths  app.DatasetPaths
	client *exchange.Client
	clk    clock.Clock
	log    *slog.Logger
	bo     *backoff.ExponentialBackOff
}

// New builds a worker.
func New(cfg *app.Config, paths app.DatasetPaths, client *exchange.Client, clk clock.Clock, log *slog.Logger) *Worker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	return &Worker{cfg: cfg, paths: paths, client: client, clk: clk, log: log, bo: bo}
}

// Run loops poll cycles until ctx is cancelled. Invariant violations and
// clock regressions are fatal; everything else is local to a slice and
// retried on later cycles.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.paths.EnsureRawLayout(); err != nil {
		return err
	}
	if n, err := claim.Sweep(w.paths.ClaimsDir(), w.cfg.ClaimTTL, w.clk); err != nil {
		w.log.Warn("claim sweep failed", "error", err)
	} else if n > 0 {
		w.log.Info("swept stale claims", "count", n)
	}

	for {
		if err := w.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			w.log.Info("fetch worker exiting")
			return nil
		case <-w.clk.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) cycle(ctx context.Context) error {
	nowMS := w.clk.Now().UnixMilli()

	startMS, endMS, err := w.client.ComputeTimeRange(ctx, w.cfg.Symbol, w.cfg.Interval, nowMS)
	if err != nil {
		if errors.Is(err, exchange.ErrNoDataFound) {
			return err // dataset-level: nothing to ingest, fatal misconfiguration
		}
		w.log.Warn("time-range probe failed, retrying next cycle", "error", err)
		return nil
	}

	keys, err := slice.Keys(w.cfg.Symbol, w.cfg.Interval, startMS, endMS, w.cfg.Limit)
	if err != nil {
		return fmt.Errorf("enumerate lattice: %w", err)
	}

	man, err := manifest.Load(w.paths.ManifestPath())
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("manifest snapshot unreadable, treating all slices as missing", "error", err)
		}
		man = manifest.New(w.cfg.Venue, w.cfg.Endpoint, w.cfg.Symbol, w.cfg.Interval, w.cfg.Limit)
	}

	cl, err := Classify(man, keys, nowMS, w.cfg.RefreshOnSchemaMismatch)
	if err != nil {
		return err // clock regression breaks lattice alignment
	}

	work := worklist(keys, cl)
	w.log.Info("poll cycle", "expected", len(keys), "work", len(work), "current", cl.Current.CompositeKey())

	for _, k := range work {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := w.fetchSlice(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// fetchSlice runs the claim → fetch → inspect → persist → delta sequence for
// one slice. Returns an error only for fatal conditions.
//
// The request always spans the slice's full lattice width. A still-forming
// current slice then inspects as a trailing deficit (STILL_FORMING) rather
// than as a spuriously complete truncated window.
func (w *Worker) fetchSlice(ctx context.Context, k slice.Key) error {
	id := k.ID()
	comp := k.CompositeKey()

	cl, err := claim.Acquire(w.paths.ClaimsDir(), id, w.cfg.ClaimTTL, w.clk)
	if err != nil {
		if errors.Is(err, claim.ErrHeld) {
			w.log.Debug("slice claimed elsewhere, skipping", "slice_id", id)
			return nil
		}
		w.log.Warn("claim acquisition failed", "slice_id", id, "error", err)
		return nil
	}

	requestedAt := w.clk.Now().UTC().Format(time.RFC3339Nano)
	metrics.FetchAttempts.Inc()
	res, err := w.client.Klines(ctx, exchange.KlinesRequest{
		Symbol:   w.cfg.Symbol,
		Interval: w.cfg.Interval,
		Limit:    w.cfg.Limit,
		StartMS:  &k.StartMS,
		EndMS:    &k.EndMS,
	})
	if err != nil {
		w.failSlice(ctx, cl, k, res, err, requestedAt)
		return nil
	}

	opens, err := model.OpenTimes(res.Rows)
	if err != nil {
		w.failSlice(ctx, cl, k, res, fmt.Errorf("%w: %v", exchange.ErrDecode, err), requestedAt)
		return nil
	}

	nowMS := w.clk.Now().UnixMilli()
	lastImplicit := slice.LastOpenImplicit(k.StartMS, k.EndMS, k.IntervalMS())
	insp, err := inspect.Inspect(opens, k.StartMS, lastImplicit, k.IntervalMS(), nowMS)
	if err != nil {
		// response shape contradicts the lattice: a bug, log and exit
		w.log.Error("inspection invariant violated", "slice_id", id, "error", err)
		cl.Release()
		return err
	}
	completedAt := w.clk.Now().UTC().Format(time.RFC3339Nano)

	var firstTS, lastTS *int64
	if insp.NItems > 0 {
		f, l := insp.ReceivedFirstOpen, insp.ReceivedLastOpen
		firstTS, lastTS = &f, &l
	}

	rf := &manifest.ResponseFile{
		Meta: manifest.ResponseMeta{
			SliceCompKey:      comp,
			SliceID:           id,
			Symbol:            w.cfg.Symbol,
			Interval:          w.cfg.Interval,
			Limit:             w.cfg.Limit,
			StartMS:           k.StartMS,
			EndMS:             k.EndMS,
			RequestedURL:      res.URL,
			HTTPStatus:        res.HTTPStatus,
			RequestedAt:       requestedAt,
			CompletedAt:       completedAt,
			NItems:            insp.NItems,
			FirstTS:           firstTS,
			LastTS:            lastTS,
			SliceStatus:       insp.Verdict.Status,
			SliceStatusReason: insp.Verdict.Reason,
			Inspection:        &insp,
		},
		Data: res.Rows,
	}
	if err := manifest.WriteResponse(w.paths.ResponsePath(id), rf); err != nil {
		// the claim is deliberately not released: if the temp write landed
		// but the rename failed, the TTL recovers the slice later
		w.log.Error("response write failed, leaving claim for TTL recovery", "slice_id", id, "error", err)
		return nil
	}

	d := manifest.Delta{
		SliceCompKey: comp,
		Entry: manifest.Entry{
			SliceID:           id,
			SliceStatus:       insp.Verdict.Status,
			SliceStatusReason: insp.Verdict.Reason,
			FirstTS:           firstTS,
			LastTS:            lastTS,
			RequestedAt:       requestedAt,
			CompletedAt:       completedAt,
			RelativePath:      w.paths.ResponseRelPath(id),
			NItems:            insp.NItems,
			HTTPStatus:        res.HTTPStatus,
			RequestedURL:      res.URL,
		},
	}
	if err := manifest.Append(w.paths.DeltaPath(), d, w.clk.Now()); err != nil {
		w.log.Error("delta append failed", "slice_id", id, "error", err)
		cl.Release()
		return nil
	}

	if insp.Verdict.Terminal() {
		metrics.SlicesCompleted.Inc()
	}
	w.bo.Reset()
	w.log.Info("slice fetched",
		"slice_id", id,
		"status", insp.Verdict.Status,
		"reason", insp.Verdict.Reason,
		"n_items", insp.NItems,
		"mode", insp.Mode)
	return cl.Release()
}

// failSlice records a FAILED delta, releases the claim and applies backoff.
func (w *Worker) failSlice(ctx context.Context, cl *claim.Claim, k slice.Key, res exchange.KlinesResult, cause error, requestedAt string) {
	reason := model.ReasonHTTPError
	if errors.Is(cause, exchange.ErrDecode) {
		reason = model.ReasonException
	}
	metrics.FetchFailures.WithLabelValues(string(reason)).Inc()

	if err := cl.Release(); err != nil {
		w.log.Warn("claim release failed", "error", err)
	}

	d := manifest.Delta{
		SliceCompKey: k.CompositeKey(),
		Entry: manifest.Entry{
			SliceID:           k.ID(),
			SliceStatus:       model.StatusFailed,
			SliceStatusReason: reason,
			RequestedAt:       requestedAt,
			CompletedAt:       w.clk.Now().UTC().Format(time.RFC3339Nano),
			NItems:            0,
			HTTPStatus:        res.HTTPStatus,
			RequestedURL:      res.URL,
			Error:             cause.Error(),
		},
	}
	if err := manifest.Append(w.paths.DeltaPath(), d, w.clk.Now()); err != nil {
		w.log.Error("delta append failed", "slice_id", k.ID(), "error", err)
	}

	wait := w.bo.NextBackOff()
	w.log.Warn("slice fetch failed",
		"slice_id", k.ID(), "reason", reason, "error", cause, "backoff", wait)
	select {
	case <-ctx.Done():
	case <-w.clk.After(wait):
	}
}
