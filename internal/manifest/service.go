package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"qlir/internal/metrics"
)

// ServiceConfig wires one delta service to its dataset directory.
type ServiceConfig struct {
	DeltaPath        string
	ManifestPath     string
	SnapshotDropPath string // manifest_snapshot/manifest.snapshot.json

	PollInterval     time.Duration // delta tail cadence
	SnapshotEvents   int           // snapshot after this many deltas
	SnapshotInterval time.Duration // snapshot after this much time
	SnapshotBytes    int64         // snapshot after this much delta-log growth
}

func (c *ServiceConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.SnapshotEvents <= 0 {
		c.SnapshotEvents = 5
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 120 * time.Second
	}
	if c.SnapshotBytes <= 0 {
		c.SnapshotBytes = 100 << 20
	}
}

// Service is the single long-running manifest process for a dataset. It
// tails manifest.delta, folds deltas into the in-memory manifest, snapshots
// to manifest.json with atomic rename, and consumes full-rebuild snapshots
// dropped by the offline rebuild tool. Only the service writes
// manifest.json.
type Service struct {
	cfg ServiceConfig
	clk clock.Clock
	log *slog.Logger

	man  *Manifest
	tail *Tail

	eventsSinceSnapshot int
	lastSnapshotAt      time.Time
	deltaSizeAtSnapshot int64
}

// NewService builds a delta service.
func NewService(cfg ServiceConfig, clk clock.Clock, log *slog.Logger) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, clk: clk, log: log}
}

// Run starts the service and blocks until ctx is cancelled, then writes a
// final snapshot. A corrupt manifest or snapshot document is fatal: the
// offline rebuild tool must produce a fresh one first.
func (s *Service) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	ticker := s.clk.Ticker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("delta service shutting down, writing final snapshot")
			return s.snapshot()
		case <-ticker.C:
			if err := s.step(); err != nil {
				return err
			}
		}
	}
}

// start loads the initial state: an existing manifest.json if present,
// otherwise it polls for the rebuild drop-off, then replays the whole delta
// log to reach live state.
func (s *Service) start(ctx context.Context) error {
	man, err := Load(s.cfg.ManifestPath)
	switch {
	case err == nil:
		s.man = man
		s.log.Info("loaded manifest", "slices", len(man.Slices))
	case errors.Is(err, ErrCorrupt):
		return fmt.Errorf("refusing to start: %w (run rebuild)", err)
	case os.IsNotExist(err):
		man, err = s.waitForSnapshotDrop(ctx)
		if err != nil {
			return err
		}
		s.man = man
	default:
		return fmt.Errorf("load manifest: %w", err)
	}

	s.tail = NewTail(s.cfg.DeltaPath)
	deltas, err := s.tail.Next()
	if err != nil {
		return fmt.Errorf("replay delta log: %w", err)
	}
	for _, d := range deltas {
		s.man.Apply(d)
	}
	s.log.Info("replayed delta log", "deltas", len(deltas), "offset", s.tail.Offset())

	s.lastSnapshotAt = s.clk.Now()
	s.deltaSizeAtSnapshot = Size(s.cfg.DeltaPath)
	return s.snapshot()
}

func (s *Service) waitForSnapshotDrop(ctx context.Context) (*Manifest, error) {
	s.log.Info("waiting for rebuild snapshot", "path", s.cfg.SnapshotDropPath)
	for {
		man, err := Load(s.cfg.SnapshotDropPath)
		if err == nil {
			if err := os.Remove(s.cfg.SnapshotDropPath); err != nil {
				s.log.Warn("could not remove consumed snapshot drop", "error", err)
			}
			s.log.Info("consumed rebuild snapshot", "slices", len(man.Slices))
			return man, nil
		}
		if errors.Is(err, ErrCorrupt) {
			return nil, fmt.Errorf("refusing to start: %w", err)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load snapshot drop: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clk.After(time.Second):
		}
	}
}

// step is one steady-state iteration: fold new deltas, honor the snapshot
// triggers, consume any fresh rebuild drop-off.
func (s *Service) step() error {
	deltas, err := s.tail.Next()
	if err != nil {
		return fmt.Errorf("tail delta log: %w", err)
	}
	for _, d := range deltas {
		s.man.Apply(d)
	}
	s.eventsSinceSnapshot += len(deltas)
	if len(deltas) > 0 {
		metrics.DeltasApplied.Add(float64(len(deltas)))
	}

	if s.shouldSnapshot() {
		if err := s.snapshot(); err != nil {
			return err
		}
	}

	return s.consumeDrop()
}

func (s *Service) shouldSnapshot() bool {
	if s.eventsSinceSnapshot >= s.cfg.SnapshotEvents {
		return true
	}
	if s.clk.Now().Sub(s.lastSnapshotAt) >= s.cfg.SnapshotInterval {
		return true
	}
	if Size(s.cfg.DeltaPath)-s.deltaSizeAtSnapshot >= s.cfg.SnapshotBytes {
		return true
	}
	return false
}

func (s *Service) snapshot() error {
	s.man.RecomputeSummary(s.clk.Now())
	if err := Write(s.cfg.ManifestPath, s.man); err != nil {
		return err
	}
	s.eventsSinceSnapshot = 0
	s.lastSnapshotAt = s.clk.Now()
	s.deltaSizeAtSnapshot = Size(s.cfg.DeltaPath)
	metrics.SnapshotsWritten.Inc()
	s.log.Debug("snapshot written", "slices", len(s.man.Slices))
	return nil
}

// consumeDrop replaces the in-memory manifest with a freshly dropped rebuild
// snapshot, rewrites manifest.json, and deletes the drop file.
func (s *Service) consumeDrop() error {
	man, err := Load(s.cfg.SnapshotDropPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if errors.Is(err, ErrCorrupt) {
			s.log.Error("ignoring corrupt snapshot drop", "error", err)
			return nil
		}
		return fmt.Errorf("load snapshot drop: %w", err)
	}
	s.man = man
	if err := s.snapshot(); err != nil {
		return err
	}
	if err := os.Remove(s.cfg.SnapshotDropPath); err != nil {
		s.log.Warn("could not remove consumed snapshot drop", "error", err)
	}
	s.log.Info("replaced manifest from rebuild snapshot", "slices", len(man.Slices))
	return nil
}
