package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/google/subcommands"

	"qlir/internal/agg"
	"qlir/internal/app"
	"qlir/internal/exchange"
	"qlir/internal/fetchwork"
	"qlir/internal/fsx"
	"qlir/internal/manifest"
	"qlir/internal/metrics"
	"qlir/internal/slogx"
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&fetchCmd{}, "")
	subcommands.Register(&manifestCmd{}, "")
	subcommands.Register(&aggCmd{}, "")
	subcommands.Register(&rebuildCmd{}, "")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(int(subcommands.Execute(ctx)))
}

// App is the dependency bundle every subcommand runs on, built by Wire.
type App struct {
	Config *app.Config
	Clock  clock.Clock
	Paths  app.DatasetPaths
	Log    *slog.Logger
	Client *exchange.Client
}

// datasetFlags select the dataset a subcommand operates on. Each flag
// overrides the corresponding QLIR_* environment variable.
type datasetFlags struct {
	symbol   string
	interval string
	limit    int
	dataRoot string
	baseURL  string
}

func (d *datasetFlags) register(f *flag.FlagSet) {
	f.StringVar(&d.symbol, "symbol", "", "trading pair, e.g. BTCUSDT (QLIR_SYMBOL)")
	f.StringVar(&d.interval, "interval", "", "kline interval, e.g. 1m (QLIR_INTERVAL)")
	f.IntVar(&d.limit, "limit", 0, "candles per request (QLIR_LIMIT)")
	f.StringVar(&d.dataRoot, "data-root", "", "dataset root directory (QLIR_DATA_ROOT)")
	f.StringVar(&d.baseURL, "base-url", "", "exchange REST base URL (QLIR_BASE_URL)")
}

func (d *datasetFlags) apply(cfg *app.Config) {
	if d.symbol != "" {
		cfg.Symbol = d.symbol
	}
	if d.interval != "" {
		cfg.Interval = d.interval
	}
	if d.limit > 0 {
		cfg.Limit = d.limit
	}
	if d.dataRoot != "" {
		cfg.DataRoot = d.dataRoot
	}
	if d.baseURL != "" {
		cfg.BaseURL = d.baseURL
	}
}

// setup assembles config and dependencies for one subcommand run.
func setup(d *datasetFlags) (*App, func(), error) {
	cfg := app.LoadConfig()
	d.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	a, cleanup, err := InitializeApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(a.Log)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				a.Log.Error("metrics listener stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}
	return a, cleanup, nil
}

type fetchCmd struct {
	flags datasetFlags
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "crawl raw kline slices until interrupted" }
func (*fetchCmd) Usage() string {
	return "fetch -symbol BTCUSDT -interval 1m [-limit N]:\n  Fetch, inspect and persist raw kline slices, appending manifest deltas.\n"
}
func (c *fetchCmd) SetFlags(f *flag.FlagSet) { c.flags.register(f) }

func (c *fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cleanup, err := setup(&c.flags)
	if err != nil {
		slog.Error("fetch init failed", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	w := fetchwork.New(a.Config, a.Paths, a.Client, a.Clock, a.Log)
	if err := w.Run(ctx); err != nil {
		a.Log.Error("fetch worker stopped", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type manifestCmd struct {
	flags datasetFlags
}

func (*manifestCmd) Name() string     { return "manifest" }
func (*manifestCmd) Synopsis() string { return "run the manifest delta service" }
func (*manifestCmd) Usage() string {
	return "manifest -symbol BTCUSDT -interval 1m [-limit N]:\n  Tail manifest.delta and maintain manifest.json for one dataset.\n"
}
func (c *manifestCmd) SetFlags(f *flag.FlagSet) { c.flags.register(f) }

func (c *manifestCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cleanup, err := setup(&c.flags)
	if err != nil {
		slog.Error("manifest init failed", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	if err := a.Paths.EnsureRawLayout(); err != nil {
		a.Log.Error("ensure layout failed", "error", err)
		return subcommands.ExitFailure
	}
	svc := manifest.NewService(manifest.ServiceConfig{
		DeltaPath:        a.Paths.DeltaPath(),
		ManifestPath:     a.Paths.ManifestPath(),
		SnapshotDropPath: a.Paths.SnapshotDropPath(),
	}, a.Clock, a.Log)
	if err := svc.Run(ctx); err != nil {
		a.Log.Error("manifest service stopped", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type aggCmd struct {
	flags datasetFlags
}

func (*aggCmd) Name() string     { return "agg" }
func (*aggCmd) Synopsis() string { return "compact complete slices into parquet parts" }
func (*aggCmd) Usage() string {
	return "agg -symbol BTCUSDT -interval 1m [-limit N]:\n  Batch aggregation-eligible slices into parquet part files.\n"
}
func (c *aggCmd) SetFlags(f *flag.FlagSet) { c.flags.register(f) }

func (c *aggCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cleanup, err := setup(&c.flags)
	if err != nil {
		slog.Error("agg init failed", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	eng := agg.NewEngine(a.Config, a.Paths, a.Clock, a.Log)
	if err := eng.Run(ctx); err != nil {
		a.Log.Error("aggregator stopped", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type rebuildCmd struct {
	flags datasetFlags
}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "rebuild the manifest from raw responses on disk" }
func (*rebuildCmd) Usage() string {
	return "rebuild -symbol BTCUSDT -interval 1m [-limit N]:\n  Scan responses/ and drop a full manifest snapshot for the manifest service to adopt.\n"
}
func (c *rebuildCmd) SetFlags(f *flag.FlagSet) { c.flags.register(f) }

func (c *rebuildCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, cleanup, err := setup(&c.flags)
	if err != nil {
		slog.Error("rebuild init failed", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	cfg := a.Config
	man, err := manifest.Rebuild(a.Paths.ResponsesDir(), cfg.Venue, cfg.Endpoint, cfg.Symbol, cfg.Interval, cfg.Limit, a.Log)
	if err != nil {
		a.Log.Error("rebuild failed", "error", err)
		return subcommands.ExitFailure
	}
	man.RecomputeSummary(a.Clock.Now())

	drop := a.Paths.SnapshotDropPath()
	if err := fsx.EnsureDir(filepath.Dir(drop)); err != nil {
		a.Log.Error("rebuild failed", "error", err)
		return subcommands.ExitFailure
	}
	if err := manifest.Write(drop, man); err != nil {
		a.Log.Error("rebuild snapshot write failed", "error", err)
		return subcommands.ExitFailure
	}
	a.Log.Info("rebuild snapshot dropped",
		"path", drop, "slices", man.Summary.TotalSlices)
	return subcommands.ExitSuccess
}
