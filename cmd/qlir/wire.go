//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"qlir/internal/app"
)

// InitializeApp builds the dependency bundle shared by every subcommand.
// The returned cleanup closes the manifest log file.
func InitializeApp(cfg *app.Config) (*App, func(), error) {
	wire.Build(
		app.ProviderSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
