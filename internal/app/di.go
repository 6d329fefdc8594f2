package app

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"

	"qlir/internal/exchange"
	"qlir/internal/slogx"
)

// ProviderSet wires the pieces every subcommand shares.
var ProviderSet = wire.NewSet(
	ProvideClock,
	ProvidePaths,
	ProvideLogger,
	ProvideExchangeClient,
)

func ProvideClock() clock.Clock { return clock.New() }

func ProvidePaths(cfg *Config) DatasetPaths { return NewDatasetPaths(cfg) }

// ProvideLogger builds the process logger, teeing into the manifest log file
// when one is configured. The cleanup closes that file.
func ProvideLogger(cfg *Config) (*slog.Logger, func(), error) {
	log, closer, err := slogx.NewWithFile(cfg.LogLevel, cfg.ManifestLogPath)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { closer.Close() }, nil
}

func ProvideExchangeClient(cfg *Config) *exchange.Client {
	return exchange.New(cfg.BaseURL, cfg.RequestTimeout)
}
